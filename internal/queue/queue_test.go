package queue

import (
	"testing"
	"time"
)

func entry(identity string, mood Mood) Entry {
	return Entry{Identity: identity, Mood: mood, JoinedAt: time.Now()}
}

func TestComplementaryMoodsMatch(t *testing.T) {
	m := NewManager()
	res := m.Enqueue(entry("a", MoodVent))
	if res.Matched != nil {
		t.Fatalf("unexpected match for first entry")
	}
	if res.Position != 1 {
		t.Fatalf("position = %d, want 1", res.Position)
	}

	res = m.Enqueue(entry("b", MoodListen))
	if res.Matched == nil {
		t.Fatalf("expected match")
	}
	if res.Matched.A.Identity != "a" || res.Matched.B.Identity != "b" {
		t.Fatalf("matched pair = %s/%s", res.Matched.A.Identity, res.Matched.B.Identity)
	}
	if m.Len() != 0 {
		t.Fatalf("queue not drained after match: %d", m.Len())
	}
}

func TestSameMoodWaits(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("a", MoodVent))
	res := m.Enqueue(entry("b", MoodVent))
	if res.Matched != nil {
		t.Fatalf("same mood must not match")
	}
	if res.Position != 2 {
		t.Fatalf("position = %d, want 2", res.Position)
	}
}

func TestUpsertReplacesEntry(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("a", MoodVent))
	m.Enqueue(entry("b", MoodVent))
	m.Enqueue(entry("a", MoodVent))

	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2 (one entry per identity)", m.Len())
	}
	pos, ok := m.Position("a")
	if !ok || pos != 2 {
		t.Fatalf("re-joined entry position = %d ok=%v, want back of queue", pos, ok)
	}
}

func TestUpsertCanSwitchMood(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("a", MoodVent))
	m.Enqueue(entry("b", MoodVent))
	res := m.Enqueue(Entry{Identity: "b", Mood: MoodListen})
	if res.Matched == nil {
		t.Fatalf("mood switch should match against waiting vent")
	}
}

func TestPriorityPreferred(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("slow", MoodListen))
	m.Enqueue(Entry{Identity: "vip", Mood: MoodListen, IsPriority: true})

	res := m.Enqueue(entry("v", MoodVent))
	if res.Matched == nil || res.Matched.A.Identity != "vip" {
		t.Fatalf("expected priority entry to win")
	}
}

func TestFIFOAmongEqualPriority(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("first", MoodListen))
	m.Enqueue(entry("second", MoodListen))

	res := m.Enqueue(entry("v", MoodVent))
	if res.Matched == nil || res.Matched.A.Identity != "first" {
		t.Fatalf("expected FIFO winner, got %+v", res.Matched)
	}
}

func TestGenderFilterAppliesOnlyForPremium(t *testing.T) {
	m := NewManager()
	m.Enqueue(Entry{Identity: "l", Mood: MoodListen, Gender: "m"})

	res := m.Enqueue(Entry{Identity: "v", Mood: MoodVent, Gender: "f", GenderPref: "f", Premium: true})
	if res.Matched != nil {
		t.Fatalf("premium gender filter should block mismatch")
	}

	res = m.Enqueue(Entry{Identity: "v2", Mood: MoodVent, Gender: "f", GenderPref: "f"})
	if res.Matched == nil {
		t.Fatalf("non-premium preference must be ignored")
	}
}

func TestGenderFilterOnCandidateSide(t *testing.T) {
	m := NewManager()
	m.Enqueue(Entry{Identity: "l", Mood: MoodListen, Gender: "m", GenderPref: "f", Premium: true})

	res := m.Enqueue(Entry{Identity: "v", Mood: MoodVent, Gender: "m"})
	if res.Matched != nil {
		t.Fatalf("waiting side's premium filter must also apply")
	}
}

func TestLeaveIdempotent(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("a", MoodVent))
	if !m.Leave("a") {
		t.Fatalf("expected removal")
	}
	if m.Leave("a") {
		t.Fatalf("second leave must be a no-op")
	}
	if m.Leave("never-joined") {
		t.Fatalf("leave of unknown identity must be a no-op")
	}
}

func TestPositionsRecomputeAfterRemoval(t *testing.T) {
	m := NewManager()
	m.Enqueue(entry("a", MoodVent))
	m.Enqueue(entry("b", MoodVent))
	m.Enqueue(entry("c", MoodVent))
	m.Leave("a")

	pos, ok := m.Position("c")
	if !ok || pos != 2 {
		t.Fatalf("position = %d, want 2 after head removal", pos)
	}
	positions := m.Positions()
	if len(positions) != 2 || positions[0].Identity != "b" || positions[0].Position != 1 {
		t.Fatalf("positions = %+v", positions)
	}
}

func TestExpireStale(t *testing.T) {
	m := NewManager()
	now := time.Now()
	m.Enqueue(Entry{Identity: "fresh", Mood: MoodVent, JoinedAt: now, LastBeatAt: now})
	m.Enqueue(Entry{Identity: "stale", Mood: MoodVent, JoinedAt: now.Add(-time.Minute), LastBeatAt: now.Add(-time.Minute)})

	dropped := m.ExpireStale(now, 30*time.Second)
	if len(dropped) != 1 || dropped[0].Identity != "stale" {
		t.Fatalf("dropped = %+v", dropped)
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
}

func TestHeartbeatKeepsEntryAlive(t *testing.T) {
	m := NewManager()
	now := time.Now()
	m.Enqueue(Entry{Identity: "a", Mood: MoodVent, JoinedAt: now.Add(-time.Minute), LastBeatAt: now.Add(-time.Minute)})
	if !m.Heartbeat("a", now) {
		t.Fatalf("heartbeat should find entry")
	}
	if dropped := m.ExpireStale(now, 30*time.Second); len(dropped) != 0 {
		t.Fatalf("refreshed entry must survive: %+v", dropped)
	}
	if m.Heartbeat("ghost", now) {
		t.Fatalf("heartbeat for absent entry must report false")
	}
}
