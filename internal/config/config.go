package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/pairing"
)

type Config struct {
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:"127.0.0.1:8088"`
	APIURL           string        `env:"API_URL" envDefault:"http://localhost:8000"`
	WSURL            string        `env:"WS_URL" envDefault:"ws://localhost:8000"`
	DBPath           string        `env:"DB_PATH" envDefault:"data/geoquest.db"`
	LogLevel         slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	CredentialSecret string        `env:"CREDENTIAL_SECRET"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	ReconnectDelay   time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`

	Pairing PairingConfig
	Hunt    HuntConfig
}

type PairingConfig struct {
	TTL         time.Duration `env:"PAIRING_TTL" envDefault:"300s"`
	Cooldown    time.Duration `env:"PAIRING_COOLDOWN" envDefault:"5s"`
	SampleEvery time.Duration `env:"PAIRING_SAMPLE" envDefault:"5s"`
	MaxDrift    float64       `env:"PAIRING_MAX_DRIFT_M" envDefault:"50"`
}

type HuntConfig struct {
	Proximity       float64       `env:"HUNT_PROXIMITY_M" envDefault:"50"`
	PositionEvery   time.Duration `env:"HUNT_POSITION_EVERY" envDefault:"1s"`
	HeadingEvery    time.Duration `env:"HUNT_HEADING_EVERY" envDefault:"100ms"`
	CompletionDelay time.Duration `env:"HUNT_COMPLETION_DELAY" envDefault:"2s"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects intervals that would stop timers and tickers from
// working.
func (c *Config) validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"PAIRING_TTL", c.Pairing.TTL},
		{"PAIRING_SAMPLE", c.Pairing.SampleEvery},
		{"HUNT_POSITION_EVERY", c.Hunt.PositionEvery},
		{"HUNT_HEADING_EVERY", c.Hunt.HeadingEvery},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.d)
		}
	}
	if c.HTTPTimeout < 0 || c.ReconnectDelay < 0 || c.Pairing.Cooldown < 0 || c.Hunt.CompletionDelay < 0 {
		return errors.New("timeouts, delays and cooldowns must not be negative")
	}
	return nil
}

// PairingPolicy converts the pairing settings.
func (c *Config) PairingPolicy() pairing.Config {
	return pairing.Config(c.Pairing)
}

// HuntPolicy converts the hunt settings.
func (c *Config) HuntPolicy() hunt.Config {
	return hunt.Config(c.Hunt)
}
