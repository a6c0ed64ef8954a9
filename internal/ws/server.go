// Package ws carries the persistent client protocol: connection registry
// with supersession, queue commands, the ready handshake, heartbeats, and
// disconnect handling. One reader and one writer goroutine per connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ventline/internal/ban"
	"ventline/internal/call"
	"ventline/internal/ledger"
	"ventline/internal/queue"
)

type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	identity   string
	generation uint64
}

type Server struct {
	queue    *queue.Manager
	coord    *call.Coordinator
	ledger   *ledger.Ledger
	enforcer *ban.Enforcer
	upgrader websocket.Upgrader

	heartbeatTimeout time.Duration

	mu          sync.Mutex
	byIdentity  map[string]*Client
	generations map[string]uint64
}

func NewServer(q *queue.Manager, led *ledger.Ledger, enf *ban.Enforcer, heartbeatTimeout time.Duration) *Server {
	return &Server{
		queue:            q,
		ledger:           led,
		enforcer:         enf,
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		heartbeatTimeout: heartbeatTimeout,
		byIdentity:       map[string]*Client{},
		generations:      map[string]uint64{},
	}
}

// BindCoordinator closes the server<->coordinator loop; the server is the
// coordinator's Events sink.
func (s *Server) BindCoordinator(c *call.Coordinator) {
	s.coord = c
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	metricConnectionsOpened.Inc()
	client := &Client{conn: conn, send: make(chan []byte, 16)}
	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		switch base.Type {
		case "register":
			var reg RegisterMessage
			if err := json.Unmarshal(msg, &reg); err != nil {
				continue
			}
			s.handleRegister(c, reg)
		case "join_queue":
			if c.identity == "" {
				s.sendError(c, "not_registered")
				continue
			}
			var join JoinQueueMessage
			if err := json.Unmarshal(msg, &join); err != nil {
				continue
			}
			s.handleJoinQueue(c, join)
		case "leave_queue":
			if c.identity == "" {
				continue
			}
			if s.queue.Leave(c.identity) {
				s.pushQueuePositions()
			}
		case "heartbeat":
			if c.identity == "" {
				continue
			}
			s.queue.Heartbeat(c.identity, time.Now())
			s.sendJSON(c, HeartbeatAckMessage{Type: "heartbeat_ack"})
		case "call_ready":
			if c.identity == "" {
				continue
			}
			var ready CallReadyMessage
			if err := json.Unmarshal(msg, &ready); err != nil {
				continue
			}
			// stale call ids are dropped inside the coordinator
			_ = s.coord.SignalReady(context.Background(), c.identity, ready.CallID)
		case "end_call":
			if c.identity == "" {
				continue
			}
			var end EndCallMessage
			if err := json.Unmarshal(msg, &end); err != nil {
				continue
			}
			s.handleEndCall(c, end)
		}
	}
}

func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.conn.Close()
}

// handleRegister binds the connection to a durable identity. A newer
// connection for the same identity supersedes the old one, which is told to
// stop reconnecting.
func (s *Server) handleRegister(c *Client, reg RegisterMessage) {
	if reg.Identity == "" {
		s.sendError(c, "missing_identity")
		return
	}
	if _, err := s.ledger.Snapshot(context.Background(), reg.Identity); err != nil {
		s.sendError(c, "unknown_identity")
		return
	}

	s.mu.Lock()
	old := s.byIdentity[reg.Identity]
	s.generations[reg.Identity]++
	gen := s.generations[reg.Identity]
	c.identity = reg.Identity
	c.generation = gen
	s.byIdentity[reg.Identity] = c
	s.mu.Unlock()

	if old != nil && old != c {
		metricConnectionsSuperseded.Inc()
		s.sendJSON(old, ConnectionReplacedMessage{Type: "connection_replaced"})
		safeClose(old.send)
	}
	s.sendJSON(c, RegisteredMessage{Type: "registered", Identity: reg.Identity, Generation: gen})
	log.Debug().Str("identity", reg.Identity).Uint64("generation", gen).Msg("connection_registered")
}

func (s *Server) handleJoinQueue(c *Client, join JoinQueueMessage) {
	// one live call per identity: finish or end it before queueing again
	if _, inCall := s.coord.Lookup(c.identity); inCall {
		s.sendError(c, "already_in_call")
		return
	}

	ctx := context.Background()
	row, err := s.ledger.Snapshot(ctx, c.identity)
	if err != nil {
		s.sendError(c, "unknown_identity")
		return
	}

	now := time.Now()
	if status := s.enforcer.Check(row.BanUntil, row.BanCount, now); status.Banned {
		s.sendJSON(c, BannedMessage{
			Type:        "banned",
			BannedUntil: status.Until.UnixMilli(),
			RemainingMS: status.Remaining.Milliseconds(),
			BanCount:    status.Count,
		})
		return
	}
	if !row.IsPremium && row.DailyMatchesLeft <= 0 {
		s.sendError(c, "daily_quota_exhausted")
		return
	}
	mood, err := queue.ParseMood(join.Mood)
	if err != nil {
		s.sendError(c, "unknown_mood")
		return
	}

	result := s.queue.Enqueue(queue.Entry{
		Identity:   c.identity,
		Mood:       mood,
		CardID:     join.CardID,
		IsPriority: join.IsPriority,
		Gender:     join.Gender,
		GenderPref: join.GenderPref,
		Premium:    row.IsPremium,
		JoinedAt:   now,
	})
	if result.Matched != nil {
		metricMatchesTotal.Inc()
		if _, err := s.coord.Create(ctx, *result.Matched); err != nil {
			log.Error().Err(err).Msg("create call failed")
			// put neither side back; both clients fall back to re-joining
			s.sendError(c, "match_failed")
			if partner := s.lookup(result.Matched.A.Identity); partner != nil && partner != c {
				s.sendError(partner, "match_failed")
			}
			return
		}
		s.pushQueuePositions()
		return
	}
	s.sendJSON(c, WaitingMessage{Type: "waiting", Mood: string(mood)})
	s.sendJSON(c, QueuePositionMessage{Type: "queue_position", Position: result.Position})
}

func (s *Server) handleEndCall(c *Client, end EndCallMessage) {
	reason := call.EndReason(end.Reason)
	switch reason {
	case call.ReasonNormal, call.ReasonReported, call.ReasonDisconnected:
	default:
		reason = call.ReasonNormal
	}
	remaining := time.Duration(end.RemainingSeconds) * time.Second
	if err := s.coord.EndCall(context.Background(), c.identity, reason, remaining); err != nil {
		log.Debug().Err(err).Str("identity", c.identity).Msg("end call ignored")
	}
}

// unregister tears the connection out of the registry. The queue entry is
// left for the liveness sweep so a quick reconnect can resume it; an active
// call gets a disconnect grace window instead of ending immediately.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	identity := c.identity
	current := identity != "" && s.byIdentity[identity] == c
	if current {
		delete(s.byIdentity, identity)
	}
	s.mu.Unlock()
	safeClose(c.send)
	if !current {
		return
	}

	if _, inCall := s.coord.Lookup(identity); inCall {
		gen := c.generation
		time.AfterFunc(s.heartbeatTimeout, func() {
			s.mu.Lock()
			_, reconnected := s.byIdentity[identity]
			stale := s.generations[identity] == gen
			s.mu.Unlock()
			if reconnected || !stale {
				return
			}
			_ = s.coord.EndCall(context.Background(), identity, call.ReasonDisconnected, 0)
		})
	}
}

// StartLiveness expires queue entries whose heartbeats went stale.
func (s *Server) StartLiveness(ctx context.Context, sweepInterval time.Duration) {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				dropped := s.queue.ExpireStale(now, s.heartbeatTimeout)
				if len(dropped) == 0 {
					continue
				}
				metricHeartbeatsExpired.Add(float64(len(dropped)))
				for _, e := range dropped {
					log.Info().Str("identity", e.Identity).Msg("queue entry expired")
				}
				s.pushQueuePositions()
			}
		}
	}()
}

// pushQueuePositions renotifies every waiting client of its position after
// entries ahead of it were removed.
func (s *Server) pushQueuePositions() {
	for _, p := range s.queue.Positions() {
		if c := s.lookup(p.Identity); c != nil {
			s.sendJSON(c, QueuePositionMessage{Type: "queue_position", Position: p.Position})
		}
	}
}

func (s *Server) lookup(identity string) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIdentity[identity]
}

func (s *Server) sendJSON(c *Client, v any) {
	if c == nil {
		return
	}
	msg, _ := json.Marshal(v)
	safeSend(c.send, msg)
}

func (s *Server) sendError(c *Client, code string) {
	s.sendJSON(c, ErrorMessage{Type: "error", Message: code})
}

func safeClose(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func safeSend(ch chan []byte, msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case ch <- msg:
	default:
	}
}
