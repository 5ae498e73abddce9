package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Secret is a credential read from the environment. It prints as
// [REDACTED] so that a logged Config never leaks it.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

// Config contains runtime configuration required by the service.
type Config struct {
	// DBDriver selects the persistence backend: "postgres" or "sqlite".
	DBDriver string `env:"DB_DRIVER" envDefault:"postgres"`
	DBURL    string `env:"DB_URL"`
	Port     int    `env:"PORT" envDefault:"8080"`

	// Webhook credentials. Either one authenticates an inbound callback.
	WebhookSecret Secret `env:"TAVUS_WEBHOOK_SECRET"`
	WebhookToken  Secret `env:"TAVUS_WEBHOOK_TOKEN"`

	ProviderAPIKey  Secret        `env:"TAVUS_API_KEY"`
	ProviderBaseURL string        `env:"TAVUS_BASE_URL" envDefault:"https://tavusapi.com"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// BroadcastDriver selects the pub/sub transport: "local" or "nats".
	BroadcastDriver string `env:"BROADCAST_DRIVER" envDefault:"local"`
	NATSURL         string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MaxBodyBytes int64 `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	// Failed-authentication budget per client IP.
	RatePerSecond float64 `env:"WEBHOOK_RATE_PER_SECOND" envDefault:"20"`
	RateBurst     int     `env:"WEBHOOK_RATE_BURST" envDefault:"40"`
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

// LoadFrom reads configuration from the given environment map instead of the
// process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	c.DBURL = strings.TrimSpace(c.DBURL)
	if c.DBURL == "" {
		return errors.New("DB_URL required")
	}

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	switch c.BroadcastDriver {
	case "local", "nats":
	default:
		return fmt.Errorf("BROADCAST_DRIVER must be local or nats, got %q", c.BroadcastDriver)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("WEBHOOK_MAX_BODY_BYTES must be positive")
	}
	if c.RatePerSecond <= 0 || c.RateBurst <= 0 {
		return errors.New("WEBHOOK_RATE_PER_SECOND and WEBHOOK_RATE_BURST must be positive")
	}
	return nil
}

// WebhookAuthConfigured reports whether at least one webhook credential is set.
// Without one every callback is rejected.
func (c Config) WebhookAuthConfigured() bool {
	return c.WebhookSecret.IsSet() || c.WebhookToken.IsSet()
}
