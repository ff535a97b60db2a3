package edgeguard

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateFailsFast(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.RateLimitPerSecond = 0 },
		func(c *Config) { c.RateLimitPerMinute = -1 },
		func(c *Config) { c.AutoBanThreshold = 0 },
		func(c *Config) { c.BanDuration = 0 },
		func(c *Config) { c.SweepInterval = 0 },
		func(c *Config) { c.ClientRetention = 0 },
		func(c *Config) { c.MaxClients = 0 },
		func(c *Config) { c.MaxBans = 0 },
		func(c *Config) { c.MaxDecoyEvents = 0 },
		func(c *Config) { c.MaxStoredKeys = 0 },
		func(c *Config) { c.KeyRotationInterval = 0 },
		func(c *Config) { c.AnomalyWindow = 1 },
		func(c *Config) { c.AnomalyMinSamples = 0 },
		func(c *Config) { c.AnomalyThreshold = 0 },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestDurationUnmarshalsStringAndMillis(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 90*time.Second {
		t.Fatalf("expected 90s, got %v", d.Std())
	}
	if err := json.Unmarshal([]byte(`1500`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %v", d.Std())
	}
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Fatalf("expected type error")
	}
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"rateLimitPerSecond": 5, "banDuration": "1m"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPerSecond != 5 {
		t.Fatalf("expected override 5, got %d", cfg.RateLimitPerSecond)
	}
	if cfg.BanDuration.Std() != time.Minute {
		t.Fatalf("expected 1m ban duration, got %v", cfg.BanDuration.Std())
	}
	if cfg.RateLimitPerMinute != DefaultConfig().RateLimitPerMinute {
		t.Fatalf("expected default minute limit, got %d", cfg.RateLimitPerMinute)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"rateLimitPerSecond": 0}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
