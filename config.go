package edgeguard

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration is a time.Duration that unmarshals from JSON either as a Go
// duration string ("90s", "10m") or as a number of milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Config carries every tunable threshold of the controller. Zero values are
// rejected by Validate; use DefaultConfig as the starting point.
type Config struct {
	// Rate limiting and banning.
	RateLimitPerSecond int      `json:"rateLimitPerSecond"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute"`
	AutoBanThreshold   int      `json:"autoBanThreshold"`
	BanDuration        Duration `json:"banDuration"`
	SweepInterval      Duration `json:"sweepInterval"`
	ClientRetention    Duration `json:"clientRetention"`

	// Hard capacity ceilings for the bounded collections.
	MaxClients     int `json:"maxClients"`
	MaxBans        int `json:"maxBans"`
	MaxDecoyEvents int `json:"maxDecoyEvents"`
	MaxStoredKeys  int `json:"maxStoredKeys"`

	// Key manager.
	KeyRotationInterval Duration `json:"keyRotationInterval"`

	// Anomaly detection.
	AnomalyWindow     int     `json:"anomalyWindow"`
	AnomalyMinSamples int     `json:"anomalyMinSamples"`
	AnomalyThreshold  float64 `json:"anomalyThreshold"`

	// TrustProxy enables client identification from X-Forwarded-For and
	// X-Real-IP. Disable when the service is directly exposed.
	TrustProxy bool `json:"trustProxy"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitPerSecond:  50,
		RateLimitPerMinute:  3000,
		AutoBanThreshold:    2,
		BanDuration:         Duration(10 * time.Minute),
		SweepInterval:       Duration(30 * time.Second),
		ClientRetention:     Duration(10 * time.Minute),
		MaxClients:          10000,
		MaxBans:             10000,
		MaxDecoyEvents:      1000,
		MaxStoredKeys:       1024,
		KeyRotationInterval: Duration(15 * time.Minute),
		AnomalyWindow:       120,
		AnomalyMinSamples:   10,
		AnomalyThreshold:    3.0,
		TrustProxy:          true,
	}
}

// LoadConfig reads and validates a JSON config file. Missing fields fall back
// to DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on thresholds that would disable or break enforcement.
func (c *Config) Validate() error {
	check := func(ok bool, field string, value any) error {
		if ok {
			return nil
		}
		return fmt.Errorf("%w: %s = %v", ErrInvalidConfig, field, value)
	}
	if err := check(c.RateLimitPerSecond > 0, "rateLimitPerSecond", c.RateLimitPerSecond); err != nil {
		return err
	}
	if err := check(c.RateLimitPerMinute > 0, "rateLimitPerMinute", c.RateLimitPerMinute); err != nil {
		return err
	}
	if err := check(c.AutoBanThreshold > 0, "autoBanThreshold", c.AutoBanThreshold); err != nil {
		return err
	}
	if err := check(c.BanDuration > 0, "banDuration", c.BanDuration.Std()); err != nil {
		return err
	}
	if err := check(c.SweepInterval > 0, "sweepInterval", c.SweepInterval.Std()); err != nil {
		return err
	}
	if err := check(c.ClientRetention > 0, "clientRetention", c.ClientRetention.Std()); err != nil {
		return err
	}
	if err := check(c.MaxClients > 0, "maxClients", c.MaxClients); err != nil {
		return err
	}
	if err := check(c.MaxBans > 0, "maxBans", c.MaxBans); err != nil {
		return err
	}
	if err := check(c.MaxDecoyEvents > 0, "maxDecoyEvents", c.MaxDecoyEvents); err != nil {
		return err
	}
	if err := check(c.MaxStoredKeys > 0, "maxStoredKeys", c.MaxStoredKeys); err != nil {
		return err
	}
	if err := check(c.KeyRotationInterval > 0, "keyRotationInterval", c.KeyRotationInterval.Std()); err != nil {
		return err
	}
	if err := check(c.AnomalyWindow > 1, "anomalyWindow", c.AnomalyWindow); err != nil {
		return err
	}
	if err := check(c.AnomalyMinSamples > 0, "anomalyMinSamples", c.AnomalyMinSamples); err != nil {
		return err
	}
	if err := check(c.AnomalyThreshold > 0, "anomalyThreshold", strconv.FormatFloat(c.AnomalyThreshold, 'f', -1, 64)); err != nil {
		return err
	}
	return nil
}
