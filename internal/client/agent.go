// Package client is the device-side protocol state machine: queue commands,
// the ready handshake, heartbeats, reconnection with bounded backoff, and
// the HTTP poll fallback. One agent per app session; the server guarantees
// at most one live connection per identity.
package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle              State = "idle"
	StateInQueue           State = "in_queue"
	StateMatched           State = "matched"
	StateWaitingForPartner State = "waiting_for_partner"
	StateRunning           State = "running"
	StateEnded             State = "ended"
	StateConnectionLost    State = "connection_lost"
)

var (
	ErrNotConnected     = errors.New("not_connected")
	ErrRetriesExhausted = errors.New("connection_retries_exhausted")
)

type Config struct {
	WSURL    string
	APIURL   string
	Identity string

	HeartbeatInitialDelay time.Duration
	HeartbeatPeriod       time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int

	PollPeriod time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInitialDelay <= 0 {
		c.HeartbeatInitialDelay = 2 * time.Second
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 10 * time.Second
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 8 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 6
	}
	if c.PollPeriod <= 0 {
		c.PollPeriod = 5 * time.Second
	}
}

// Snapshot is the externally visible state, safe to copy.
type Snapshot struct {
	State     State
	CallID    string
	PartnerID string
	Position  int
	StartedAt time.Time
	Duration  time.Duration
	EndReason string
	LastError string
}

// Remaining derives time left from the server-issued start, never from a
// locally ticking counter. Valid only while running.
func (s Snapshot) Remaining(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	left := s.Duration - now.Sub(s.StartedAt)
	if left < 0 {
		left = 0
	}
	return left
}

type joinIntent struct {
	Mood       string
	CardID     string
	IsPriority bool
	Gender     string
	GenderPref string
}

type Agent struct {
	cfg Config

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	snap    Snapshot

	pendingJoin  *joinIntent
	pendingReady bool
	superseded   bool
	closed       bool

	heartbeatTimer *time.Timer
	pollStop       chan struct{}
	reconnecting   bool

	httpc  *http.Client
	events chan Snapshot
}

func New(cfg Config) *Agent {
	cfg.setDefaults()
	return &Agent{
		cfg:    cfg,
		snap:   Snapshot{State: StateIdle},
		httpc:  &http.Client{Timeout: 10 * time.Second},
		events: make(chan Snapshot, 64),
	}
}

// Events streams state snapshots after every transition. Lossy when the
// consumer lags; Snapshot() is authoritative.
func (a *Agent) Events() <-chan Snapshot {
	return a.events
}

func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

// Connect dials and registers. The read loop runs until the connection
// drops, then reconnection takes over if a resumable state is active.
func (a *Agent) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.closed = false
	a.mu.Unlock()
	if err := a.send(RegisterMessage{Type: "register", Identity: a.cfg.Identity}); err != nil {
		return err
	}
	go a.readLoop(conn)
	return nil
}

// JoinQueue records the join intent (for reconnect replay), sends it, and
// arms the heartbeat with its initial delay so the first beat cannot race
// the server-side queue insert.
func (a *Agent) JoinQueue(mood, cardID string, priority bool, gender, genderPref string) error {
	intent := &joinIntent{Mood: mood, CardID: cardID, IsPriority: priority, Gender: gender, GenderPref: genderPref}
	a.mu.Lock()
	a.pendingJoin = intent
	a.mu.Unlock()
	if err := a.send(JoinQueueMessage{
		Type: "join_queue", Mood: mood, CardID: cardID,
		IsPriority: priority, Gender: gender, GenderPref: genderPref,
	}); err != nil {
		return err
	}
	a.transition(func(s *Snapshot) {
		s.State = StateInQueue
		s.CallID, s.PartnerID, s.EndReason = "", "", ""
	})
	a.armHeartbeat(a.cfg.HeartbeatInitialDelay)
	a.startPoller()
	return nil
}

// LeaveQueue cancels the wait. Safe when the connection is already gone;
// it then degrades to a local state reset.
func (a *Agent) LeaveQueue() {
	a.mu.Lock()
	a.pendingJoin = nil
	a.mu.Unlock()
	a.stopHeartbeat()
	a.stopPoller()
	_ = a.send(envelope{Type: "leave_queue"})
	a.transition(func(s *Snapshot) {
		if s.State == StateInQueue {
			s.State = StateIdle
		}
	})
}

// Ready signals this side of the handshake. The intent is kept pending so a
// reconnect replays it until call_started arrives.
func (a *Agent) Ready() error {
	a.mu.Lock()
	callID := a.snap.CallID
	a.pendingReady = callID != ""
	a.mu.Unlock()
	if callID == "" {
		return ErrNotConnected
	}
	return a.send(CallReadyMessage{Type: "call_ready", CallID: callID})
}

// EndCall terminates the active call. remaining is this side's view of the
// unused time for refund accounting. Safe on a dead connection.
func (a *Agent) EndCall(reason string, remaining time.Duration) {
	a.stopHeartbeat()
	a.stopPoller()
	a.mu.Lock()
	a.pendingReady = false
	a.mu.Unlock()
	_ = a.send(EndCallMessage{Type: "end_call", Reason: reason, RemainingSeconds: int(remaining / time.Second)})
	a.transition(func(s *Snapshot) {
		if s.State != StateEnded {
			s.State = StateEnded
			s.EndReason = reason
		}
	})
}

// Close shuts the agent down without protocol teardown.
func (a *Agent) Close() {
	a.stopHeartbeat()
	a.stopPoller()
	a.mu.Lock()
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type envelope struct {
	Type string `json:"type"`
}

func (a *Agent) send(v any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (a *Agent) transition(mutate func(*Snapshot)) {
	a.mu.Lock()
	mutate(&a.snap)
	snap := a.snap
	a.mu.Unlock()
	select {
	case a.events <- snap:
	default:
	}
}

func (a *Agent) armHeartbeat(delay time.Duration) {
	a.stopHeartbeat()
	a.mu.Lock()
	a.heartbeatTimer = time.AfterFunc(delay, a.beat)
	a.mu.Unlock()
}

func (a *Agent) beat() {
	a.mu.Lock()
	inQueue := a.snap.State == StateInQueue
	a.mu.Unlock()
	if !inQueue {
		return
	}
	if err := a.send(envelope{Type: "heartbeat"}); err != nil {
		log.Debug().Err(err).Msg("heartbeat send failed")
	}
	a.armHeartbeat(a.cfg.HeartbeatPeriod)
}

func (a *Agent) stopHeartbeat() {
	a.mu.Lock()
	if a.heartbeatTimer != nil {
		a.heartbeatTimer.Stop()
		a.heartbeatTimer = nil
	}
	a.mu.Unlock()
}
