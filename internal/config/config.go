package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// HTTP
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/bookingsync.db"`

	// Google OAuth client
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,required"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL,required"`

	// Gmail watch subscription
	PubSubTopic string `env:"PUBSUB_TOPIC,required"` // e.g. projects/<project>/topics/new-email-topic

	// When set, webhook requests must carry a Google-signed OIDC token
	// with this audience.
	PushAudience string `env:"PUSH_AUDIENCE"`

	// Token refresh
	RefreshMargin time.Duration `env:"REFRESH_BEFORE" envDefault:"5m"`

	// NATS event publishing (optional)
	NATSURL string `env:"NATS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// PublishEnabled returns true if booking events should be published to NATS
func (c *Config) PublishEnabled() bool {
	return c.NATSURL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.RefreshMargin <= 0 {
		return nil, fmt.Errorf("REFRESH_BEFORE must be positive, got %s", cfg.RefreshMargin)
	}

	return cfg, nil
}
