// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Table         TableConfig         `yaml:"table"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Lookup        LookupCacheConfig   `yaml:"lookup"`
	Search        SearchConfig        `yaml:"search"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// PublicURL is the externally reachable base URL, used to build job
	// callback URLs.
	PublicURL string     `yaml:"public_url"`
	CORS      CORSConfig `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// DatabaseConfig describes the PostgreSQL store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// RedisConfig describes the Redis connection shared by the job broker and
// the idempotency store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig describes operator authentication.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	Issuer      string        `yaml:"issuer"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	AllowSignup bool          `yaml:"allow_signup"`
	BcryptCost  int           `yaml:"bcrypt_cost"`
	// DefaultRoles are granted to operators created through signup.
	DefaultRoles []string `yaml:"default_roles"`
}

// DefinitionsConfig describes where to find definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// JobsConfig describes job submission and realtime update settings.
type JobsConfig struct {
	// Broker selects the update transport: memory, redis or postgres.
	Broker         string               `yaml:"broker"`
	Channel        string               `yaml:"channel"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// WebhookConfig describes outbound job webhook calls.
type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
	// Secret, when set, is sent with every webhook and required on job
	// callbacks.
	Secret string `yaml:"secret"`
}

// CircuitBreakerConfig describes circuit breaker settings per webhook host.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// TableConfig describes table defaults.
type TableConfig struct {
	RowsPerPage int    `yaml:"rows_per_page"`
	PageSizes   []int  `yaml:"page_sizes"`
	DefaultSort string `yaml:"default_sort"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Driver is memory or redis.
	Driver     string        `yaml:"driver"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// LookupCacheConfig describes lookup cache settings.
type LookupCacheConfig struct {
	Cache CacheConfig `yaml:"cache"`
}

// SearchConfig describes the global search across entities.
type SearchConfig struct {
	TimeoutPerEntity    time.Duration `yaml:"timeout_per_entity"`
	MaxResultsPerEntity int           `yaml:"max_results_per_entity"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFormat is json or console.
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is otlp (gRPC), otlphttp or stdout.
	Exporter          string  `yaml:"exporter"`
	Endpoint          string  `yaml:"endpoint"`
	SamplingRate      float64 `yaml:"sampling_rate"`
	ForceSampleErrors bool    `yaml:"force_sample_errors"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			PublicURL:       "http://localhost:8080",
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:       "dastyar",
			TokenTTL:     12 * time.Hour,
			BcryptCost:   12,
			DefaultRoles: []string{"clerk"},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"definitions"},
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Jobs: JobsConfig{
			Broker:  "memory",
			Channel: "job_updates",
			Webhook: WebhookConfig{
				Enabled: true,
				Timeout: 10 * time.Second,
				Workers: 4,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Table: TableConfig{
			RowsPerPage: 5,
			PageSizes:   []int{5, 10, 15},
			DefaultSort: "name",
		},
		Idempotency: IdempotencyConfig{
			Enabled:    true,
			Driver:     "memory",
			DefaultTTL: 24 * time.Hour,
		},
		Lookup: LookupCacheConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 1000,
			},
		},
		Search: SearchConfig{
			TimeoutPerEntity:    2 * time.Second,
			MaxResultsPerEntity: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied. It is
// used when no config file is given.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth.jwt_secret must be at least 32 bytes")
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories is required")
	}

	switch c.Jobs.Broker {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis job broker")
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "database.url is required for the postgres job broker")
		}
	default:
		errs = append(errs, fmt.Sprintf("jobs.broker %q is not one of memory, redis, postgres", c.Jobs.Broker))
	}

	if c.Idempotency.Driver == "redis" && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required for the redis idempotency store")
	}
	if c.Table.RowsPerPage < 1 {
		errs = append(errs, "table.rows_per_page must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads DASTYAR_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DASTYAR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DASTYAR_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("DASTYAR_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DASTYAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DASTYAR_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DASTYAR_WEBHOOK_SECRET"); v != "" {
		cfg.Jobs.Webhook.Secret = v
	}
	if v := os.Getenv("DASTYAR_JOBS_BROKER"); v != "" {
		cfg.Jobs.Broker = v
	}
	if v := os.Getenv("DASTYAR_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("DASTYAR_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
