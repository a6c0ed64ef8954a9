package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ventline/internal/ban"
	"ventline/internal/call"
	"ventline/internal/ledger"
	"ventline/internal/queue"
	"ventline/internal/testutil"
)

type wsFixture struct {
	srv   *Server
	coord *call.Coordinator
	store *testutil.MemStore
	ts    *httptest.Server
	url   string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	ms := testutil.NewMemStore()
	led := ledger.New(ms, ledger.Config{DailyQuota: 3, MinuteRewardPts: 1, ReportPenaltyPts: 10, RefundMinUnused: time.Minute})
	enf := ban.NewEnforcer(ban.StepPolicy{Threshold: 3, Base: time.Hour})
	srv := NewServer(queue.NewManager(), led, enf, 25*time.Second)
	coord := call.NewCoordinator(call.Config{
		BaseDuration:  7 * time.Minute,
		MaxDuration:   30 * time.Minute,
		WarningWindow: time.Minute,
	}, ms, led, enf, srv)
	srv.BindCoordinator(coord)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return &wsFixture{
		srv:   srv,
		coord: coord,
		store: ms,
		ts:    ts,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *wsFixture) dial(t *testing.T) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads frames until one of the wanted type arrives, skipping
// unrelated pushes such as queue_position updates.
func (c *testConn) expect(msgType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %q: %v", msgType, err)
		}
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.t.Fatalf("bad frame %s: %v", raw, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func (c *testConn) register(identity string) {
	c.t.Helper()
	c.send(RegisterMessage{Type: "register", Identity: identity})
	c.expect("registered")
}

func TestRegisterUnknownIdentityRejected(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	conn.send(RegisterMessage{Type: "register", Identity: "ghost"})
	msg := conn.expect("error")
	if msg["message"] != "unknown_identity" {
		t.Fatalf("message = %v", msg["message"])
	}
}

func TestJoinBeforeRegisterRejected(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	conn.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	msg := conn.expect("error")
	if msg["message"] != "not_registered" {
		t.Fatalf("message = %v", msg["message"])
	}
}

func TestMatchReadyHandshakeOverSocket(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)
	f.store.Seed("b", 100, 3, false)

	ca := f.dial(t)
	cb := f.dial(t)
	ca.register("a")
	cb.register("b")

	ca.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	ca.expect("waiting")
	if pos := ca.expect("queue_position"); pos["position"].(float64) != 1 {
		t.Fatalf("position = %v", pos["position"])
	}

	cb.send(JoinQueueMessage{Type: "join_queue", Mood: "listen"})
	ma := ca.expect("match_found")
	mb := cb.expect("match_found")
	if ma["call_id"] != mb["call_id"] {
		t.Fatalf("call ids diverge: %v vs %v", ma["call_id"], mb["call_id"])
	}
	if ma["partner_id"] != "b" || mb["partner_id"] != "a" {
		t.Fatalf("partners = %v / %v", ma["partner_id"], mb["partner_id"])
	}
	callID := ma["call_id"].(string)

	ca.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	ca.expect("waiting_for_partner")

	cb.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	sa := ca.expect("call_started")
	sb := cb.expect("call_started")
	if sa["started_at"] != sb["started_at"] {
		t.Fatalf("start times diverge: %v vs %v", sa["started_at"], sb["started_at"])
	}
	if sa["duration"].(float64) != 7*60 {
		t.Fatalf("duration = %v", sa["duration"])
	}
}

func TestEndCallNotifiesBothSides(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)
	f.store.Seed("b", 100, 3, false)

	ca := f.dial(t)
	cb := f.dial(t)
	ca.register("a")
	cb.register("b")
	ca.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	cb.send(JoinQueueMessage{Type: "join_queue", Mood: "listen"})
	callID := ca.expect("match_found")["call_id"].(string)
	cb.expect("match_found")
	ca.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	cb.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	ca.expect("call_started")
	cb.expect("call_started")

	ca.send(EndCallMessage{Type: "end_call", Reason: "normal"})
	if got := ca.expect("call_ended"); got["reason"] != "normal" {
		t.Fatalf("terminator reason = %v", got["reason"])
	}
	if got := cb.expect("call_ended"); got["reason"] != "partner_left" {
		t.Fatalf("partner reason = %v", got["reason"])
	}
}

func TestUnknownEndReasonTreatedAsNormal(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)
	f.store.Seed("b", 100, 3, false)

	ca := f.dial(t)
	cb := f.dial(t)
	ca.register("a")
	cb.register("b")
	ca.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	cb.send(JoinQueueMessage{Type: "join_queue", Mood: "listen"})
	callID := ca.expect("match_found")["call_id"].(string)
	cb.expect("match_found")
	ca.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	cb.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	ca.expect("call_started")
	cb.expect("call_started")

	ca.send(EndCallMessage{Type: "end_call", Reason: "max_duration"})
	if got := ca.expect("call_ended"); got["reason"] != "normal" {
		t.Fatalf("client must not claim a system-only reason, got %v", got["reason"])
	}
}

func TestJoinWhileInCallRejected(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)
	f.store.Seed("b", 100, 3, false)
	f.store.Seed("c", 100, 3, false)

	ca := f.dial(t)
	cb := f.dial(t)
	ca.register("a")
	cb.register("b")
	ca.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	cb.send(JoinQueueMessage{Type: "join_queue", Mood: "listen"})
	callID := ca.expect("match_found")["call_id"].(string)
	cb.expect("match_found")
	ca.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	cb.send(CallReadyMessage{Type: "call_ready", CallID: callID})
	ca.expect("call_started")
	cb.expect("call_started")

	// a third participant is waiting; a busy one must not be paired with them
	cc := f.dial(t)
	cc.register("c")
	cc.send(JoinQueueMessage{Type: "join_queue", Mood: "listen"})
	cc.expect("waiting")

	ca.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	if msg := ca.expect("error"); msg["message"] != "already_in_call" {
		t.Fatalf("message = %v", msg["message"])
	}
	if cl, ok := f.coord.Lookup("a"); !ok || cl.ID != callID {
		t.Fatalf("live call displaced by rejoin attempt")
	}
	if f.coord.ActiveCalls() != 1 {
		t.Fatalf("active calls = %d", f.coord.ActiveCalls())
	}
}

func TestBannedIdentityCannotJoin(t *testing.T) {
	f := newWSFixture(t)
	row := f.store.Seed("a", 100, 3, false)
	until := time.Now().Add(time.Hour)
	row.BanUntil = &until
	row.BanCount = 1

	conn := f.dial(t)
	conn.register("a")
	conn.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	msg := conn.expect("banned")
	if msg["remaining_ms"].(float64) <= 0 || msg["ban_count"].(float64) != 1 {
		t.Fatalf("banned payload = %v", msg)
	}
	if f.srv.queue.Len() != 0 {
		t.Fatalf("banned join must not create a queue entry")
	}
}

func TestQuotaExhaustedCannotJoin(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 0, false)

	conn := f.dial(t)
	conn.register("a")
	conn.send(JoinQueueMessage{Type: "join_queue", Mood: "vent"})
	if msg := conn.expect("error"); msg["message"] != "daily_quota_exhausted" {
		t.Fatalf("message = %v", msg["message"])
	}
}

func TestUnknownMoodRejected(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)
	conn := f.dial(t)
	conn.register("a")
	conn.send(JoinQueueMessage{Type: "join_queue", Mood: "shout"})
	if msg := conn.expect("error"); msg["message"] != "unknown_mood" {
		t.Fatalf("message = %v", msg["message"])
	}
}

func TestNewConnectionSupersedesOld(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)

	first := f.dial(t)
	first.register("a")
	second := f.dial(t)
	second.send(RegisterMessage{Type: "register", Identity: "a"})
	reg := second.expect("registered")
	if reg["generation"].(float64) != 2 {
		t.Fatalf("generation = %v", reg["generation"])
	}
	first.expect("connection_replaced")
}

func TestHeartbeatAcknowledged(t *testing.T) {
	f := newWSFixture(t)
	f.store.Seed("a", 100, 3, false)
	conn := f.dial(t)
	conn.register("a")
	conn.send(map[string]string{"type": "heartbeat"})
	conn.expect("heartbeat_ack")
}
