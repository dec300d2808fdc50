package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.PublicURL != "https://dastyar.example.com" {
		t.Errorf("Server.PublicURL = %q", cfg.Server.PublicURL)
	}
	if cfg.Database.MaxConns != 20 {
		t.Errorf("Database.MaxConns = %d, want 20", cfg.Database.MaxConns)
	}
	if cfg.Auth.TokenTTL != 8*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 8h", cfg.Auth.TokenTTL)
	}
	if !cfg.Auth.AllowSignup {
		t.Error("Auth.AllowSignup = false, want true")
	}
	if len(cfg.Definitions.Directories) != 2 {
		t.Errorf("Definitions.Directories = %v, want 2 entries", cfg.Definitions.Directories)
	}
	if cfg.Jobs.Broker != "redis" {
		t.Errorf("Jobs.Broker = %q, want redis", cfg.Jobs.Broker)
	}
	if cfg.Jobs.Webhook.Timeout != 5*time.Second {
		t.Errorf("Jobs.Webhook.Timeout = %v, want 5s", cfg.Jobs.Webhook.Timeout)
	}
	if cfg.Jobs.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("Jobs.CircuitBreaker.FailureThreshold = %d, want 3", cfg.Jobs.CircuitBreaker.FailureThreshold)
	}
	// Unset nested values keep their defaults.
	if cfg.Jobs.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("Jobs.CircuitBreaker.SuccessThreshold = %d, want default 2", cfg.Jobs.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Table.RowsPerPage != 10 {
		t.Errorf("Table.RowsPerPage = %d, want 10", cfg.Table.RowsPerPage)
	}
	if cfg.Observability.Tracing.Exporter != "otlphttp" {
		t.Errorf("Tracing.Exporter = %q, want otlphttp", cfg.Observability.Tracing.Exporter)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_secret(t *testing.T) {
	_, err := Load("testdata/missing_secret.yaml")
	if err == nil {
		t.Fatal("Load() without auth.jwt_secret should return error")
	}
	if !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Errorf("error = %v, want mention of auth.jwt_secret", err)
	}
}

func TestLoad_joins_errors(t *testing.T) {
	_, err := Load("testdata/bad_broker.yaml")
	if err == nil {
		t.Fatal("Load() with unknown broker should return error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `jobs.broker "kafka"`) {
		t.Errorf("error = %v, want broker message", err)
	}
	if !strings.Contains(msg, "; redis.addr is required for the redis idempotency store") {
		t.Errorf("error = %v, want joined idempotency message", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if cfg.Table.RowsPerPage != 5 {
		t.Errorf("default Table.RowsPerPage = %d, want 5", cfg.Table.RowsPerPage)
	}
	if cfg.Table.DefaultSort != "name" {
		t.Errorf("default Table.DefaultSort = %q, want name", cfg.Table.DefaultSort)
	}
	if cfg.Jobs.Broker != "memory" {
		t.Errorf("default Jobs.Broker = %q, want memory", cfg.Jobs.Broker)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DASTYAR_SERVER_PORT", "3000")
	t.Setenv("DASTYAR_DATABASE_URL", "postgres://env/dastyar")
	t.Setenv("DASTYAR_REDIS_ADDR", "redis:6380")
	t.Setenv("DASTYAR_JOBS_BROKER", "postgres")
	t.Setenv("DASTYAR_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env/dastyar" {
		t.Errorf("Database.URL = %q, want env override", cfg.Database.URL)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Jobs.Broker != "postgres" {
		t.Errorf("Jobs.Broker = %q, want postgres", cfg.Jobs.Broker)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DASTYAR_JWT_SECRET", testSecret)
	t.Setenv("DASTYAR_SERVER_PORT", "not-a-number")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want env value", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080 on unparsable override", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"no definitions", func(c *Config) { c.Definitions.Directories = nil }, "definitions.directories"},
		{"postgres broker without database", func(c *Config) { c.Jobs.Broker = "postgres" }, "database.url"},
		{"redis broker without addr", func(c *Config) { c.Jobs.Broker = "redis" }, "redis.addr"},
		{"zero rows per page", func(c *Config) { c.Table.RowsPerPage = 0 }, "table.rows_per_page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
