// Package config provides YAML configuration loading and validation for the
// solid-mcp delivery engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the delivery engine.
// Every field except DatabaseDSN has a documented default (applyDefaults),
// so a file that sets only database_dsn is enough; an empty file fails
// validation because DatabaseDSN is required.
type Config struct {
	// BatchSize is the maximum number of messages the Writer inserts in a
	// single round trip. Defaults to 200.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval bounds how long the Writer's worker idles between
	// batch-insert attempts. Defaults to 50ms.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// PollingInterval is how long a Subscriber sleeps between empty polls.
	// Defaults to 100ms.
	PollingInterval time.Duration `yaml:"polling_interval"`

	// MaxWaitTime is an advisory upper bound, for host HTTP handlers, on how
	// long a long-poll or SSE connection should stay open. The engine itself
	// does not enforce it. Defaults to 30s.
	MaxWaitTime time.Duration `yaml:"max_wait_time"`

	// MaxQueueSize is the Writer's bounded intake capacity. Defaults to
	// 10000.
	MaxQueueSize int `yaml:"max_queue_size"`

	// ShutdownTimeout bounds how long Writer.Shutdown waits for the intake
	// queue to drain before giving up. Defaults to 5s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// DeliveredRetention is how long a delivered row survives before Sweeper
	// deletes it. Defaults to 1h.
	DeliveredRetention time.Duration `yaml:"delivered_retention"`

	// UndeliveredRetention is how long an undelivered row survives before
	// Sweeper deletes it. Defaults to 24h.
	UndeliveredRetention time.Duration `yaml:"undelivered_retention"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the admin HTTP server (/healthz,
	// /admin/sweep). Defaults to "127.0.0.1:9000" when omitted.
	HealthAddr string `yaml:"health_addr"`

	// DatabaseDriver selects the Store backend: "postgres" or "sqlite".
	// Defaults to "postgres" when omitted.
	DatabaseDriver string `yaml:"database_driver"`

	// DatabaseDSN is the connection string (a libpq DSN for postgres, a file
	// path for sqlite). Required.
	DatabaseDSN string `yaml:"database_dsn"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDrivers is the set of accepted database_driver values.
var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// Default returns a Config populated entirely from defaults, for callers
// that wire up the engine programmatically instead of from a YAML file.
// DatabaseDSN is still required before the config is usable.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 100 * time.Millisecond
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = 30 * time.Second
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10_000
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.DeliveredRetention <= 0 {
		cfg.DeliveredRetention = time.Hour
	}
	if cfg.UndeliveredRetention <= 0 {
		cfg.UndeliveredRetention = 24 * time.Hour
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9000"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validDrivers[cfg.DatabaseDriver] {
		errs = append(errs, fmt.Errorf("database_driver %q must be one of: postgres, sqlite", cfg.DatabaseDriver))
	}
	if cfg.DatabaseDSN == "" {
		errs = append(errs, errors.New("database_dsn is required"))
	}

	return errors.Join(errs...)
}
