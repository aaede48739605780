// Package config provides configuration management for tripwire services.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Worker WorkerConfig
	Store  StoreConfig
	API    ListenConfig
	Health ListenConfig
	Notify NotifyConfig
	Facts  FactsConfig
	Log    LogConfig
}

// WorkerConfig holds scheduler worker settings.
type WorkerConfig struct {
	ID               string // empty generates a UUIDv7 per process
	PollInterval     time.Duration
	LeaseDuration    time.Duration
	EvalTimeout      time.Duration
	MaxClaimsPerTick int
	Concurrency      int
	FinalizeAttempts int
	FinalizeBackoff  time.Duration
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Driver      string // sql, redis or memory
	DBURL       string
	RedisURL    string
	RedisPrefix string
	AutoMigrate bool
}

// ListenConfig is a host/port pair.
type ListenConfig struct {
	Host string
	Port int
}

// NotifyConfig bounds outbound notifications.
type NotifyConfig struct {
	RatePerSec    float64
	Burst         int
	SendTimeout   time.Duration
	RetryAttempts int
}

// FactsConfig points at the remote fact service. An empty endpoint disables it.
type FactsConfig struct {
	Endpoint  string
	Timeout   time.Duration
	ValuePath string
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			PollInterval:     5 * time.Second,
			LeaseDuration:    60 * time.Second,
			EvalTimeout:      20 * time.Second,
			MaxClaimsPerTick: 32,
			Concurrency:      4,
			FinalizeAttempts: 5,
			FinalizeBackoff:  200 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:      "sql",
			DBURL:       "sqlite://tripwire.db",
			RedisPrefix: "tripwire:",
			AutoMigrate: true,
		},
		API:    ListenConfig{Host: "0.0.0.0", Port: 8080},
		Health: ListenConfig{Host: "0.0.0.0", Port: 50051},
		Notify: NotifyConfig{
			RatePerSec:    20,
			Burst:         5,
			SendTimeout:   10 * time.Second,
			RetryAttempts: 3,
		},
		Facts: FactsConfig{
			Timeout:   5 * time.Second,
			ValuePath: "value",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	w := c.Worker
	for name, d := range map[string]time.Duration{
		"worker.poll_interval":    w.PollInterval,
		"worker.lease_duration":   w.LeaseDuration,
		"worker.eval_timeout":     w.EvalTimeout,
		"worker.finalize_backoff": w.FinalizeBackoff,
		"notify.send_timeout":     c.Notify.SendTimeout,
		"facts.timeout":           c.Facts.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if w.EvalTimeout >= w.LeaseDuration {
		return fmt.Errorf("worker.eval_timeout (%v) must be shorter than worker.lease_duration (%v)", w.EvalTimeout, w.LeaseDuration)
	}
	if w.MaxClaimsPerTick <= 0 {
		return fmt.Errorf("worker.max_claims_per_tick must be positive, got %d", w.MaxClaimsPerTick)
	}
	if w.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", w.Concurrency)
	}
	if w.FinalizeAttempts <= 0 {
		return fmt.Errorf("worker.finalize_attempts must be positive, got %d", w.FinalizeAttempts)
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sql":
		if c.Store.DBURL == "" {
			return fmt.Errorf("store.db_url is required for the sql driver")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be sql, redis or memory, got %q", c.Store.Driver)
	}

	for name, l := range map[string]ListenConfig{"api": c.API, "health": c.Health} {
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("%s.port must be between 1 and 65535, got %d", name, l.Port)
		}
	}

	if c.Notify.RatePerSec <= 0 {
		return fmt.Errorf("notify.rate_per_sec must be positive, got %v", c.Notify.RatePerSec)
	}
	if c.Notify.Burst <= 0 {
		return fmt.Errorf("notify.burst must be positive, got %d", c.Notify.Burst)
	}
	if c.Notify.RetryAttempts <= 0 {
		return fmt.Errorf("notify.retry_attempts must be positive, got %d", c.Notify.RetryAttempts)
	}

	if c.Facts.Endpoint != "" {
		u, err := url.Parse(c.Facts.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("facts.endpoint must be an http(s) URL, got %q", c.Facts.Endpoint)
		}
	}
	return nil
}

// hasPassword reports whether rawURL carries an inline password.
func hasPassword(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return false
	}
	_, ok := u.User.Password()
	return ok
}
