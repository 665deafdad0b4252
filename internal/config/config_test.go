package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seuros/solid-mcp/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
database_driver: postgres
database_dsn: "postgres://localhost:5432/solidmcp"
batch_size: 500
flush_interval: 10ms
polling_interval: 50ms
max_wait_time: 15s
max_queue_size: 20000
shutdown_timeout: 2s
delivered_retention: 30m
undelivered_retention: 12h
log_level: debug
health_addr: "127.0.0.1:9001"
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("DatabaseDriver = %q, want %q", cfg.DatabaseDriver, "postgres")
	}
	if cfg.DatabaseDSN != "postgres://localhost:5432/solidmcp" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 10*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 10ms", cfg.FlushInterval)
	}
	if cfg.PollingInterval != 50*time.Millisecond {
		t.Errorf("PollingInterval = %v, want 50ms", cfg.PollingInterval)
	}
	if cfg.MaxWaitTime != 15*time.Second {
		t.Errorf("MaxWaitTime = %v, want 15s", cfg.MaxWaitTime)
	}
	if cfg.MaxQueueSize != 20000 {
		t.Errorf("MaxQueueSize = %d, want 20000", cfg.MaxQueueSize)
	}
	if cfg.ShutdownTimeout != 2*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 2s", cfg.ShutdownTimeout)
	}
	if cfg.DeliveredRetention != 30*time.Minute {
		t.Errorf("DeliveredRetention = %v, want 30m", cfg.DeliveredRetention)
	}
	if cfg.UndeliveredRetention != 12*time.Hour {
		t.Errorf("UndeliveredRetention = %v, want 12h", cfg.UndeliveredRetention)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.HealthAddr != "127.0.0.1:9001" {
		t.Errorf("HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9001")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	yaml := `
database_dsn: "postgres://localhost:5432/solidmcp"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BatchSize != 200 {
		t.Errorf("default BatchSize = %d, want 200", cfg.BatchSize)
	}
	if cfg.FlushInterval != 50*time.Millisecond {
		t.Errorf("default FlushInterval = %v, want 50ms", cfg.FlushInterval)
	}
	if cfg.PollingInterval != 100*time.Millisecond {
		t.Errorf("default PollingInterval = %v, want 100ms", cfg.PollingInterval)
	}
	if cfg.MaxWaitTime != 30*time.Second {
		t.Errorf("default MaxWaitTime = %v, want 30s", cfg.MaxWaitTime)
	}
	if cfg.MaxQueueSize != 10_000 {
		t.Errorf("default MaxQueueSize = %d, want 10000", cfg.MaxQueueSize)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("default ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
	if cfg.DeliveredRetention != time.Hour {
		t.Errorf("default DeliveredRetention = %v, want 1h", cfg.DeliveredRetention)
	}
	if cfg.UndeliveredRetention != 24*time.Hour {
		t.Errorf("default UndeliveredRetention = %v, want 24h", cfg.UndeliveredRetention)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.HealthAddr != "127.0.0.1:9000" {
		t.Errorf("default HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9000")
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("default DatabaseDriver = %q, want %q", cfg.DatabaseDriver, "postgres")
	}
}

func TestLoadConfig_MissingDatabaseDSN(t *testing.T) {
	path := writeTemp(t, `log_level: info`)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing database_dsn, got nil")
	}
	if !strings.Contains(err.Error(), "database_dsn") {
		t.Errorf("error %q does not mention database_dsn", err.Error())
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	yaml := `
database_dsn: "postgres://localhost:5432/solidmcp"
log_level: "verbose"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err.Error())
	}
}

func TestLoadConfig_InvalidDatabaseDriver(t *testing.T) {
	yaml := `
database_dsn: "postgres://localhost:5432/solidmcp"
database_driver: "mysql"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid database_driver, got nil")
	}
	if !strings.Contains(err.Error(), "database_driver") {
		t.Errorf("error %q does not mention database_driver", err.Error())
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.LoadConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.BatchSize != 200 {
		t.Errorf("Default().BatchSize = %d, want 200", cfg.BatchSize)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("Default().DatabaseDriver = %q, want %q", cfg.DatabaseDriver, "postgres")
	}
}
