package client

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// startPoller begins the slow HTTP fallback poll that masks missed realtime
// deliveries while queued. The poll feeds the same reducer as the socket,
// so a match seen on both channels is applied once.
func (a *Agent) startPoller() {
	a.mu.Lock()
	if a.pollStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.pollStop = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(a.cfg.PollPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.pollOnce()
			}
		}
	}()
}

func (a *Agent) stopPoller() {
	a.mu.Lock()
	if a.pollStop != nil {
		close(a.pollStop)
		a.pollStop = nil
	}
	a.mu.Unlock()
}

func (a *Agent) pollOnce() {
	a.mu.Lock()
	inQueue := a.snap.State == StateInQueue
	a.mu.Unlock()
	if !inQueue {
		return
	}

	u := a.cfg.APIURL + "/api/match/pending?identity=" + url.QueryEscape(a.cfg.Identity)
	resp, err := a.httpc.Get(u)
	if err != nil {
		log.Debug().Err(err).Msg("pending match poll failed")
		return
	}
	defer resp.Body.Close()
	var pm pendingMatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&pm); err != nil {
		return
	}
	if pm.HasMatch {
		a.adoptMatch(pm.CallID, pm.PartnerID, pm.Duration, pm.StartedAtMS)
	}
}
