package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the parcelwatch service.
// Environment variables are parsed from the PARCELWATCH_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Persistence
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"parcelwatch.db"`

	// Credential vault
	VaultPassphrase string `envconfig:"VAULT_PASSPHRASE" required:"true"`
	VaultKeyDir     string `envconfig:"VAULT_KEY_DIR" default:"."`

	// Portal polling
	PortalBaseURL       string `envconfig:"PORTAL_BASE_URL" default:"https://www.flypack.one"`
	PollIntervalMinutes int    `envconfig:"POLL_INTERVAL_MINUTES" default:"5"`

	// Bot transport
	TelegramToken      string `envconfig:"TELEGRAM_TOKEN" required:"true"`
	TelegramAPIURL     string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
	MaxMessageLength   int    `envconfig:"MAX_MESSAGE_LENGTH" default:"4096"`
	MaxMessageEntities int    `envconfig:"MAX_MESSAGE_ENTITIES" default:"25"`
	MessagePauseMillis int    `envconfig:"MESSAGE_PAUSE_MILLIS" default:"500"`
	ErrorChannel       int64  `envconfig:"ERROR_CHANNEL" default:"0"`

	// Session persistence
	SessionFlushIntervalMinutes int `envconfig:"SESSION_FLUSH_INTERVAL_MINUTES" default:"10"`

	// Operational HTTP surface
	HTTPPort                  int `envconfig:"HTTP_PORT" default:"8080"`
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates the driver selection and cross-field requirements.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("PARCELWATCH_POSTGRES_DSN required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("PARCELWATCH_SQLITE_PATH required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.PollIntervalMinutes <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MINUTES must be positive")
	}
	if c.MaxMessageLength <= 0 || c.MaxMessageEntities <= 0 {
		return fmt.Errorf("message limits must be positive")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Example: PARCELWATCH_TELEGRAM_TOKEN, PARCELWATCH_POLL_INTERVAL_MINUTES.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("PARCELWATCH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests.
func NewForTesting() *Config {
	return &Config{
		Environment:                 EnvTesting,
		DBDriver:                    "sqlite",
		SQLitePath:                  ":memory:",
		VaultPassphrase:             "test-passphrase",
		VaultKeyDir:                 ".",
		PortalBaseURL:               "http://localhost:0",
		PollIntervalMinutes:         5,
		TelegramToken:               "test-token",
		TelegramAPIURL:              "http://localhost:0",
		MaxMessageLength:            4096,
		MaxMessageEntities:          25,
		MessagePauseMillis:          0,
		SessionFlushIntervalMinutes: 10,
		HTTPPort:                    8080,
		HealthIntervalSeconds:       30,
		HealthProbeTimeoutSeconds:   2,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// MessagePause returns the inter-chunk pacing delay.
func (c *Config) MessagePause() time.Duration {
	return time.Duration(c.MessagePauseMillis) * time.Millisecond
}

// SessionFlushInterval returns the periodic session flush cadence.
func (c *Config) SessionFlushInterval() time.Duration {
	return time.Duration(c.SessionFlushIntervalMinutes) * time.Minute
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
