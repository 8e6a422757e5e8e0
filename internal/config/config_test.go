package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/pairing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8088" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
	if got := cfg.PairingPolicy(); got != pairing.DefaultConfig {
		t.Errorf("pairing policy = %+v, want %+v", got, pairing.DefaultConfig)
	}
	if got := cfg.HuntPolicy(); got != hunt.DefaultConfig {
		t.Errorf("hunt policy = %+v, want %+v", got, hunt.DefaultConfig)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PAIRING_TTL", "60s")
	t.Setenv("HUNT_PROXIMITY_M", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.Pairing.TTL != time.Minute {
		t.Errorf("pairing TTL = %v", cfg.Pairing.TTL)
	}
	if cfg.Hunt.Proximity != 25 {
		t.Errorf("proximity = %v", cfg.Hunt.Proximity)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadRejectsNonPositiveIntervals(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PAIRING_SAMPLE", "0s"},
		{"HUNT_POSITION_EVERY", "0s"},
		{"HUNT_HEADING_EVERY", "-1s"},
		{"PAIRING_TTL", "0s"},
		{"HTTP_TIMEOUT", "-1s"},
		{"RECONNECT_DELAY", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.value)
			}
		})
	}
}
