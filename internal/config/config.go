// Package config loads application configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// A double underscore separates nesting levels: TRIAGE_STORAGE__BACKEND sets storage.backend.
const EnvPrefix = "TRIAGE_"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Storage    StorageConfig    `koanf:"storage"`
	Validation ValidationConfig `koanf:"validation"`
	Alerting   AlertingConfig   `koanf:"alerting"`
	CORS       CORSConfig       `koanf:"cors"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// StorageConfig selects and configures the session state store.
type StorageConfig struct {
	Backend  string         `koanf:"backend" validate:"oneof=memory sqlite postgres redis"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
}

// SQLiteConfig configures the sqlite store.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PostgresConfig configures the postgres store.
type PostgresConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=0"`
	Migrate         bool          `koanf:"migrate"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"gte=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

// ValidationConfig configures the infrastructure validation engine.
type ValidationConfig struct {
	Concurrency         int              `koanf:"concurrency" validate:"gte=1"`
	ProbeTimeout        time.Duration    `koanf:"probe_timeout" validate:"gt=0"`
	ProbeRetries        int              `koanf:"probe_retries" validate:"gte=0"`
	RetryInitialBackoff time.Duration    `koanf:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration    `koanf:"retry_max_backoff"`
	RetryMultiplier     float64          `koanf:"retry_multiplier" validate:"gte=1"`
	ProbeRate           float64          `koanf:"probe_rate" validate:"gte=0"`
	ProbeBurst          int              `koanf:"probe_burst" validate:"gte=0"`
	Simulation          SimulationConfig `koanf:"simulation"`
}

// SimulationConfig configures the simulated probe source.
type SimulationConfig struct {
	MinLatency  time.Duration `koanf:"min_latency"`
	MaxLatency  time.Duration `koanf:"max_latency" validate:"gtefield=MinLatency"`
	SuccessRate float64       `koanf:"success_rate" validate:"gte=0,lte=1"`
	Seed        uint64        `koanf:"seed"`
}

// AlertingConfig configures discrepancy alerting.
type AlertingConfig struct {
	Enabled     bool             `koanf:"enabled"`
	MinSeverity string           `koanf:"min_severity" validate:"oneof=warning critical"`
	QueueSize   int              `koanf:"queue_size" validate:"gte=1"`
	Worker      WorkerConfig     `koanf:"worker"`
	Mattermost  MattermostConfig `koanf:"mattermost"`
	Email       EmailConfig      `koanf:"email"`
}

// WorkerConfig configures the alert delivery workers.
type WorkerConfig struct {
	NumWorkers        int           `koanf:"num_workers" validate:"gte=1"`
	MaxAttempts       int           `koanf:"max_attempts" validate:"gte=1"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"gte=1"`
}

// MattermostConfig configures the Mattermost webhook sender.
type MattermostConfig struct {
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Username   string        `koanf:"username"`
	IconURL    string        `koanf:"icon_url" validate:"omitempty,url"`
	Channel    string        `koanf:"channel"`
	Timeout    time.Duration `koanf:"timeout"`
}

// EmailConfig configures the SMTP sender. An empty host disables it.
type EmailConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port" validate:"gte=0,lte=65535"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	To       []string      `koanf:"to" validate:"omitempty,dive,email"`
	Timeout  time.Duration `koanf:"timeout"`
}

// CORSConfig configures cross-origin requests.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			SQLite: SQLiteConfig{
				Path: "triage-garden.db",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    5,
				MaxIdleConns:    1,
				ConnMaxLifetime: 30 * time.Minute,
				ConnectTimeout:  30 * time.Second,
				ConnectAttempts: 5,
				Migrate:         true,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "triage-garden:",
			},
		},
		Validation: ValidationConfig{
			Concurrency:         4,
			ProbeTimeout:        10 * time.Second,
			ProbeRetries:        2,
			RetryInitialBackoff: 200 * time.Millisecond,
			RetryMaxBackoff:     2 * time.Second,
			RetryMultiplier:     2.0,
			ProbeBurst:          1,
			Simulation: SimulationConfig{
				MinLatency:  500 * time.Millisecond,
				MaxLatency:  1500 * time.Millisecond,
				SuccessRate: 0.8,
			},
		},
		Alerting: AlertingConfig{
			Enabled:     false,
			MinSeverity: "critical",
			QueueSize:   100,
			Worker: WorkerConfig{
				NumWorkers:        2,
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        30 * time.Second,
				BackoffMultiplier: 2.0,
			},
			Mattermost: MattermostConfig{
				Username: "TriageGarden",
				Timeout:  10 * time.Second,
			},
			Email: EmailConfig{
				Port:    587,
				Timeout: 10 * time.Second,
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads configuration from the optional YAML file at path and then from
// TRIAGE_ environment variables, on top of Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TRIAGE_STORAGE__POSTGRES__URL to storage.postgres.url.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks field constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("invalid config: storage.sqlite.path is required")
		}
	case BackendPostgres:
		if c.Storage.Postgres.URL == "" {
			return errors.New("invalid config: storage.postgres.url is required")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("invalid config: storage.redis.addr is required")
		}
	}

	if !c.Alerting.Enabled {
		return nil
	}
	if c.Alerting.Mattermost.WebhookURL == "" && c.Alerting.Email.Host == "" {
		return errors.New("invalid config: alerting needs alerting.mattermost.webhook_url or alerting.email.host")
	}
	if c.Alerting.Email.Host != "" && (c.Alerting.Email.From == "" || len(c.Alerting.Email.To) == 0) {
		return errors.New("invalid config: alerting.email.from and alerting.email.to are required with alerting.email.host")
	}
	return nil
}
