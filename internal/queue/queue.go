// Package queue holds waiting participants and pairs complementary moods.
// One live entry per identity; inserting again replaces the previous entry.
package queue

import (
	"errors"
	"sync"
	"time"
)

type Mood string

const (
	MoodVent   Mood = "vent"
	MoodListen Mood = "listen"
)

var ErrUnknownMood = errors.New("unknown_mood")

func ParseMood(s string) (Mood, error) {
	switch Mood(s) {
	case MoodVent, MoodListen:
		return Mood(s), nil
	}
	return "", ErrUnknownMood
}

func (m Mood) Complement() Mood {
	if m == MoodVent {
		return MoodListen
	}
	return MoodVent
}

type Entry struct {
	Identity   string
	Mood       Mood
	CardID     string
	IsPriority bool
	Gender     string
	GenderPref string
	Premium    bool
	JoinedAt   time.Time
	LastBeatAt time.Time
}

// Match is an atomically removed pair. A is always the earlier entry.
type Match struct {
	A Entry
	B Entry
}

// Result of an enqueue: either a match or a 1-based queue position.
type Result struct {
	Matched  *Match
	Position int
}

type Manager struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

func NewManager() *Manager {
	return &Manager{entries: map[string]*Entry{}}
}

// Enqueue upserts the entry and immediately attempts a match. The pair is
// removed under the same lock that inserted the entry, so two concurrent
// enqueues cannot both claim the same counterpart.
func (m *Manager) Enqueue(e Entry) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.JoinedAt.IsZero() {
		e.JoinedAt = time.Now()
	}
	if e.LastBeatAt.IsZero() {
		e.LastBeatAt = e.JoinedAt
	}
	m.removeLocked(e.Identity)
	m.scrubOrderLocked(e.Identity)
	m.entries[e.Identity] = &e
	m.order = append(m.order, e.Identity)

	if partner := m.findCounterpartLocked(&e); partner != nil {
		a, b := *partner, e
		m.removeLocked(partner.Identity)
		m.removeLocked(e.Identity)
		return Result{Matched: &Match{A: a, B: b}}
	}
	return Result{Position: m.positionLocked(e.Identity)}
}

// findCounterpartLocked scans for the best complementary entry: priority
// entries first, then earliest joined. Gender filters apply whenever the
// side holding the preference is premium.
func (m *Manager) findCounterpartLocked(e *Entry) *Entry {
	var best *Entry
	for _, id := range m.order {
		cand, ok := m.entries[id]
		if !ok || cand.Identity == e.Identity {
			continue
		}
		if cand.Mood != e.Mood.Complement() {
			continue
		}
		if !genderCompatible(e, cand) || !genderCompatible(cand, e) {
			continue
		}
		if best == nil {
			best = cand
			continue
		}
		if cand.IsPriority && !best.IsPriority {
			best = cand
		}
	}
	return best
}

func genderCompatible(holder, other *Entry) bool {
	if !holder.Premium || holder.GenderPref == "" {
		return true
	}
	return other.Gender == holder.GenderPref
}

// Leave removes the identity's entry. Idempotent.
func (m *Manager) Leave(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[identity]
	m.removeLocked(identity)
	return ok
}

// Position returns the 1-based queue position.
func (m *Manager) Position(identity string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[identity]; !ok {
		return 0, false
	}
	return m.positionLocked(identity), true
}

// Positions snapshots every waiting identity with its current position, in
// queue order. Used to push position updates after entries ahead are removed.
func (m *Manager) Positions() []struct {
	Identity string
	Position int
} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]struct {
		Identity string
		Position int
	}, 0, len(m.entries))
	pos := 0
	for _, id := range m.order {
		if _, ok := m.entries[id]; !ok {
			continue
		}
		pos++
		out = append(out, struct {
			Identity string
			Position int
		}{id, pos})
	}
	return out
}

// Heartbeat refreshes the entry's liveness mark.
func (m *Manager) Heartbeat(identity string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[identity]
	if !ok {
		return false
	}
	e.LastBeatAt = at
	return true
}

// ExpireStale drops entries whose last heartbeat is older than timeout and
// returns them.
func (m *Manager) ExpireStale(now time.Time, timeout time.Duration) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []Entry
	for id, e := range m.entries {
		if now.Sub(e.LastBeatAt) > timeout {
			dropped = append(dropped, *e)
			m.removeLocked(id)
		}
	}
	return dropped
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) positionLocked(identity string) int {
	pos := 0
	for _, id := range m.order {
		if _, ok := m.entries[id]; !ok {
			continue
		}
		pos++
		if id == identity {
			return pos
		}
	}
	return 0
}

// scrubOrderLocked drops stale occurrences so a re-join lands at the back.
func (m *Manager) scrubOrderLocked(identity string) {
	kept := m.order[:0]
	for _, id := range m.order {
		if id != identity {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

func (m *Manager) removeLocked(identity string) {
	if _, ok := m.entries[identity]; !ok {
		return
	}
	delete(m.entries, identity)
	// compact lazily once tombstones dominate
	if len(m.order) > 2*len(m.entries)+16 {
		kept := m.order[:0]
		for _, id := range m.order {
			if _, ok := m.entries[id]; ok {
				kept = append(kept, id)
			}
		}
		m.order = kept
	}
}
