package ws

import (
	"time"

	"ventline/internal/call"
)

// The server is the coordinator's Events sink. Deliveries to identities
// without a live connection are dropped; the HTTP poll fallback and the
// client's reconnect replay cover the gap.

func (s *Server) MatchFound(identity, callID, partner string, duration time.Duration, startedAt *time.Time) {
	msg := MatchFoundMessage{
		Type:            "match_found",
		CallID:          callID,
		PartnerID:       partner,
		DurationSeconds: int(duration / time.Second),
	}
	if startedAt != nil {
		msg.StartedAtMS = startedAt.UnixMilli()
	}
	s.sendJSON(s.lookup(identity), msg)
}

func (s *Server) WaitingForPartner(identity, callID string) {
	s.sendJSON(s.lookup(identity), WaitingForPartnerMessage{Type: "waiting_for_partner", CallID: callID})
}

func (s *Server) CallStarted(identity, callID string, startedAt time.Time, duration time.Duration) {
	s.sendJSON(s.lookup(identity), CallStartedMessage{
		Type:            "call_started",
		CallID:          callID,
		StartedAtMS:     startedAt.UnixMilli(),
		DurationSeconds: int(duration / time.Second),
	})
}

func (s *Server) CallWarning(identity, callID string, remaining time.Duration) {
	s.sendJSON(s.lookup(identity), CallWarningMessage{
		Type:             "call_warning",
		CallID:           callID,
		RemainingSeconds: int(remaining / time.Second),
	})
}

func (s *Server) CallEnded(identity, callID string, reason call.EndReason) {
	s.sendJSON(s.lookup(identity), CallEndedMessage{Type: "call_ended", CallID: callID, Reason: string(reason)})
}
