package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Provision ProvisionConfig
	Events    EventsConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/guardlab.db"`
}

// EngineConfig holds container engine configuration. Host is passed to the
// Docker client as-is; when empty the client falls back to DOCKER_HOST and
// the default socket.
type EngineConfig struct {
	Host string `env:"ENGINE_HOST"`
	Fake bool   `env:"ENGINE_FAKE" envDefault:"false"` // In-memory engine, no container runtime needed
}

// ProvisionConfig holds provisioning behavior configuration.
type ProvisionConfig struct {
	AutoProvision   bool          `env:"AUTO_PROVISION" envDefault:"true"`
	Debounce        time.Duration `env:"PROVISION_DEBOUNCE" envDefault:"5s"`
	HealthTimeout   time.Duration `env:"HEALTH_TIMEOUT" envDefault:"60s"`
	Parallelism     int           `env:"APPLY_PARALLELISM" envDefault:"2"`
	BootstrapAPIKey string        `env:"BOOTSTRAP_API_KEY"`
}

// EventsConfig holds event publishing configuration. An empty URL disables
// publishing entirely.
type EventsConfig struct {
	NATSURL string `env:"NATS_URL"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// SlogLevel returns the configured level as a slog.Level.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.Level)
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Engine); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	if err := env.Parse(&cfg.Provision); err != nil {
		return nil, fmt.Errorf("parsing provision config: %w", err)
	}
	if err := env.Parse(&cfg.Events); err != nil {
		return nil, fmt.Errorf("parsing events config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}

	if c.Provision.Parallelism < 1 {
		return fmt.Errorf("APPLY_PARALLELISM must be at least 1")
	}
	if c.Provision.HealthTimeout <= 0 {
		return fmt.Errorf("HEALTH_TIMEOUT must be positive")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// UseFakeEngine returns true if the in-memory engine should be used instead
// of a real container runtime.
func (c *Config) UseFakeEngine() bool {
	return c.Engine.Fake
}
