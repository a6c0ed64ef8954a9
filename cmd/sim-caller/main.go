// sim-caller drives one full participant flow against a running server:
// mint an identity if none given, join the queue, complete the ready
// handshake, hold the call for a while, then hang up.
package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"ventline/internal/client"
	"ventline/internal/config"
	"ventline/internal/logging"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadCaller()
	if err != nil {
		log.Fatal().Err(err).Msg("load caller config failed")
	}

	identity := cfg.Identity
	if identity == "" {
		identity, err = mintIdentity(cfg.APIURL)
		if err != nil {
			log.Fatal().Err(err).Msg("mint identity failed")
		}
		log.Info().Str("identity", identity).Msg("identity minted")
	}

	agent := client.New(client.Config{
		WSURL:    cfg.WSURL,
		APIURL:   cfg.APIURL,
		Identity: identity,
	})
	if err := agent.Connect(); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer agent.Close()

	if err := agent.JoinQueue(cfg.Mood, cfg.CardID, false, "", ""); err != nil {
		log.Fatal().Err(err).Msg("join queue failed")
	}
	log.Info().Str("mood", cfg.Mood).Msg("queued")

	for snap := range agent.Events() {
		switch snap.State {
		case client.StateMatched:
			log.Info().Str("call_id", snap.CallID).Str("partner", snap.PartnerID).Msg("matched")
			if err := agent.Ready(); err != nil {
				log.Fatal().Err(err).Msg("ready signal failed")
			}
		case client.StateRunning:
			log.Info().
				Time("started_at", snap.StartedAt).
				Dur("remaining", snap.Remaining(time.Now())).
				Msg("call running")
			go func() {
				time.Sleep(cfg.TalkFor)
				agent.EndCall("normal", agent.Snapshot().Remaining(time.Now()))
			}()
		case client.StateEnded:
			log.Info().Str("reason", snap.EndReason).Msg("call ended")
			return
		case client.StateConnectionLost:
			log.Fatal().Str("error", snap.LastError).Msg("connection lost")
		}
	}
}

func mintIdentity(apiURL string) (string, error) {
	resp, err := http.Post(apiURL+"/api/identity", "application/json", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Identity, nil
}
