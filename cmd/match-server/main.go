package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"ventline/internal/ban"
	"ventline/internal/call"
	"ventline/internal/config"
	"ventline/internal/ledger"
	"ventline/internal/logging"
	"ventline/internal/queue"
	"ventline/internal/store"
	httptransport "ventline/internal/transport/http"
	"ventline/internal/ws"
)

func main() {
	app, err := config.LoadApp()
	if err != nil {
		logging.Init(config.LogConfig{})
		log.Fatal().Err(err).Msg("load config failed")
	}
	logging.Init(app.Log)
	cfg := app.Server

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	led := ledger.New(st, ledger.Config{
		WelcomeCredits:   int64(cfg.WelcomeMinutes) * int64(cfg.ExtensionPricePerMin),
		DailyQuota:       cfg.DailyMatchQuota,
		MinuteRewardPts:  int64(cfg.MinuteRewardPts),
		ReportPenaltyPts: int64(cfg.ReportPenaltyPts),
		ReferralCredits:  int64(cfg.ReferralMinutes) * int64(cfg.ExtensionPricePerMin),
		ShuffleCost:      int64(cfg.ShuffleCost),
		PremiumCost:      int64(cfg.PremiumCost),
		RefundMinUnused:  cfg.RefundMinUnused,
	})
	enforcer := ban.NewEnforcer(ban.StepPolicy{
		Threshold: cfg.BanReportThreshold,
		Base:      cfg.BanBaseDuration,
	})

	q := queue.NewManager()
	wsServer := ws.NewServer(q, led, enforcer, cfg.HeartbeatTimeout)
	coord := call.NewCoordinator(call.Config{
		BaseDuration:  cfg.BaseCallDuration,
		MaxDuration:   cfg.MaxCallDuration,
		WarningWindow: cfg.WarningWindow,
	}, st, led, enforcer, wsServer)
	wsServer.BindCoordinator(coord)
	wsServer.RegisterGauges()

	coord.StartWatchdog(ctx, time.Second)
	wsServer.StartLiveness(ctx, cfg.LivenessSweep)

	handlers := &httptransport.Handlers{
		Ledger:      led,
		Coordinator: coord,
		Store:       st,
		PricePerMin: int64(cfg.ExtensionPricePerMin),
	}
	r := httptransport.NewRouter(handlers, wsServer.HandleWS)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	log.Fatal().Err(server.ListenAndServe()).Msg("server stopped")
}
