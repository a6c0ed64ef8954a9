package client

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// handleDisconnect runs when the read loop sees the socket drop. States
// with an in-flight flow resume through bounded retries; anything else is
// left alone.
func (a *Agent) handleDisconnect(conn *websocket.Conn) {
	a.mu.Lock()
	if a.closed || a.superseded || a.conn != conn || a.reconnecting {
		a.mu.Unlock()
		return
	}
	state := a.snap.State
	resumable := state == StateInQueue || state == StateMatched ||
		state == StateWaitingForPartner || state == StateRunning
	if !resumable {
		a.conn = nil
		a.mu.Unlock()
		return
	}
	a.reconnecting = true
	a.conn = nil
	a.mu.Unlock()

	go a.reconnect()
}

func (a *Agent) reconnect() {
	defer func() {
		a.mu.Lock()
		a.reconnecting = false
		a.mu.Unlock()
	}()

	delay := a.cfg.ReconnectInitialDelay
	for attempt := 1; attempt <= a.cfg.ReconnectMaxAttempts; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > a.cfg.ReconnectMaxDelay {
			delay = a.cfg.ReconnectMaxDelay
		}

		a.mu.Lock()
		if a.closed || a.superseded {
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSURL, nil)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect dial failed")
			continue
		}
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		if err := a.resume(); err != nil {
			a.mu.Lock()
			a.conn = nil
			a.mu.Unlock()
			_ = conn.Close()
			continue
		}
		go a.readLoop(conn)
		log.Info().Int("attempt", attempt).Msg("reconnected")
		return
	}

	a.transition(func(s *Snapshot) {
		s.State = StateConnectionLost
		s.LastError = ErrRetriesExhausted.Error()
	})
}

// resume re-registers and replays exactly one pending intent, in order: a
// pending ready signal wins over a queue rejoin, and a mid-queue agent
// rejoins with its recorded entry.
func (a *Agent) resume() error {
	if err := a.send(RegisterMessage{Type: "register", Identity: a.cfg.Identity}); err != nil {
		return err
	}

	a.mu.Lock()
	snap := a.snap
	replayReady := snap.CallID != "" && snap.State != StateEnded &&
		(a.pendingReady || snap.State == StateMatched || snap.State == StateWaitingForPartner || snap.State == StateRunning)
	join := a.pendingJoin
	a.mu.Unlock()

	if replayReady {
		// the original signal may never have reached the server
		return a.send(CallReadyMessage{Type: "call_ready", CallID: snap.CallID})
	}
	if snap.State == StateInQueue && join != nil {
		if err := a.send(JoinQueueMessage{
			Type: "join_queue", Mood: join.Mood, CardID: join.CardID,
			IsPriority: join.IsPriority, Gender: join.Gender, GenderPref: join.GenderPref,
		}); err != nil {
			return err
		}
		a.armHeartbeat(a.cfg.HeartbeatInitialDelay)
		a.startPoller()
	}
	return nil
}
