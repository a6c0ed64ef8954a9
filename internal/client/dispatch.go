package client

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.handleDisconnect(conn)
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		a.dispatch(msg)
	}
}

// dispatch folds one server frame into the state machine. Every handler is
// idempotent under duplication and reordering: the reducer keyed by call_id
// decides novelty, not the transport that delivered the frame.
func (a *Agent) dispatch(msg inboundMessage) {
	switch msg.Type {
	case "registered":
		log.Debug().Str("identity", msg.Identity).Msg("registered")
	case "queue_position":
		a.transition(func(s *Snapshot) {
			if s.State == StateInQueue {
				s.Position = msg.Position
			}
		})
	case "waiting":
		// join acknowledged; position frame follows
	case "match_found":
		a.adoptMatch(msg.CallID, msg.PartnerID, msg.DurationSeconds, msg.StartedAtMS)
	case "waiting_for_partner":
		a.transition(func(s *Snapshot) {
			if s.CallID == msg.CallID && (s.State == StateMatched || s.State == StateWaitingForPartner) {
				s.State = StateWaitingForPartner
			}
		})
	case "call_started":
		a.mu.Lock()
		if a.snap.CallID == msg.CallID {
			a.pendingReady = false
		}
		a.mu.Unlock()
		a.transition(func(s *Snapshot) {
			if s.CallID != msg.CallID || s.State == StateEnded {
				return
			}
			s.State = StateRunning
			s.StartedAt = time.UnixMilli(msg.StartedAtMS)
			s.Duration = time.Duration(msg.DurationSeconds) * time.Second
		})
		a.stopHeartbeat()
		a.stopPoller()
	case "call_warning":
		log.Info().Str("call_id", msg.CallID).Int("remaining_s", msg.RemainingSeconds).Msg("call ending soon")
	case "call_ended":
		a.mu.Lock()
		a.pendingReady = false
		a.mu.Unlock()
		a.stopHeartbeat()
		a.stopPoller()
		a.transition(func(s *Snapshot) {
			if s.CallID == "" || s.CallID != msg.CallID {
				return
			}
			s.State = StateEnded
			s.EndReason = msg.Reason
		})
	case "connection_replaced":
		a.mu.Lock()
		a.superseded = true
		conn := a.conn
		a.conn = nil
		a.mu.Unlock()
		a.stopHeartbeat()
		a.stopPoller()
		if conn != nil {
			_ = conn.Close()
		}
		a.transition(func(s *Snapshot) {
			s.State = StateConnectionLost
			s.LastError = "connection_replaced"
		})
	case "banned":
		a.stopHeartbeat()
		a.stopPoller()
		a.transition(func(s *Snapshot) {
			s.State = StateIdle
			s.LastError = "banned"
		})
	case "heartbeat_ack":
	case "error":
		a.transition(func(s *Snapshot) {
			s.LastError = msg.Message
			if s.State == StateInQueue {
				s.State = StateIdle
			}
		})
		a.stopHeartbeat()
		a.stopPoller()
	}
}

// adoptMatch is the single reducer both delivery channels (socket and HTTP
// poll) feed. Seeing the same call twice leaves the state untouched.
func (a *Agent) adoptMatch(callID, partnerID string, durationSeconds int, startedAtMS int64) {
	if callID == "" {
		return
	}
	a.transition(func(s *Snapshot) {
		if s.CallID == callID {
			// duplicate delivery; pick up a start time we may have missed
			if s.StartedAt.IsZero() && startedAtMS > 0 && s.State != StateEnded {
				s.StartedAt = time.UnixMilli(startedAtMS)
				s.State = StateRunning
			}
			return
		}
		s.CallID = callID
		s.PartnerID = partnerID
		s.Duration = time.Duration(durationSeconds) * time.Second
		s.Position = 0
		s.EndReason = ""
		if startedAtMS > 0 {
			s.StartedAt = time.UnixMilli(startedAtMS)
			s.State = StateRunning
		} else {
			s.StartedAt = time.Time{}
			s.State = StateMatched
		}
	})
	a.stopPoller()
}
