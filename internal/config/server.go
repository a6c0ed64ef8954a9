package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	BaseCallDuration time.Duration `env:"BASE_CALL_DURATION" envDefault:"7m"`
	MaxCallDuration  time.Duration `env:"MAX_CALL_DURATION" envDefault:"30m"`
	WarningWindow    time.Duration `env:"CALL_WARNING_WINDOW" envDefault:"60s"`

	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"25s"`
	LivenessSweep    time.Duration `env:"LIVENESS_SWEEP_INTERVAL" envDefault:"5s"`

	WelcomeMinutes   int `env:"WELCOME_MINUTES" envDefault:"7"`
	DailyMatchQuota  int `env:"DAILY_MATCH_QUOTA" envDefault:"3"`
	MinuteRewardPts  int `env:"MINUTE_REWARD_POINTS" envDefault:"1"`
	ReportPenaltyPts int `env:"REPORT_PENALTY_POINTS" envDefault:"10"`
	ReferralMinutes  int `env:"REFERRAL_MINUTES" envDefault:"5"`
	ShuffleCost      int `env:"SHUFFLE_COST_CREDITS" envDefault:"20"`
	PremiumCost      int `env:"PREMIUM_COST_CREDITS" envDefault:"500"`

	ExtensionPricePerMin int           `env:"EXTENSION_PRICE_PER_MINUTE" envDefault:"10"`
	RefundMinUnused      time.Duration `env:"REFUND_MIN_UNUSED" envDefault:"60s"`

	BanReportThreshold int           `env:"BAN_REPORT_THRESHOLD" envDefault:"3"`
	BanBaseDuration    time.Duration `env:"BAN_BASE_DURATION" envDefault:"24h"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
