package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type CallerConfig struct {
	WSURL    string        `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	APIURL   string        `env:"API_URL" envDefault:"http://localhost:8080"`
	Identity string        `env:"IDENTITY" envDefault:""`
	Mood     string        `env:"MOOD" envDefault:"vent"`
	CardID   string        `env:"CARD_ID" envDefault:""`
	TalkFor  time.Duration `env:"TALK_FOR" envDefault:"30s"`
}

func LoadCaller() (CallerConfig, error) {
	var cfg CallerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
