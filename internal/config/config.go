package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the server's environment-driven settings.
type Config struct {
	Server struct {
		Port string `envconfig:"PORT" default:"8080"`
	}

	Database struct {
		Path string `envconfig:"DATABASE_PATH" default:"papertrade.db"`
	}

	Monitor struct {
		MarginInterval   time.Duration `envconfig:"MARGIN_MONITOR_INTERVAL" default:"5s"`
		SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"10s"`
	}

	Mirror struct {
		Enabled bool          `envconfig:"MIRROR_ENABLED" default:"false"`
		Timeout time.Duration `envconfig:"MIRROR_TIMEOUT" default:"3s"`
	}
}

// Validate checks interval sanity: ticking faster than once a second only
// burns oracle quota.
func Validate(cfg *Config) error {
	if cfg.Monitor.MarginInterval < time.Second {
		return fmt.Errorf("MARGIN_MONITOR_INTERVAL must be at least 1s")
	}
	if cfg.Monitor.SnapshotInterval < time.Second {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be at least 1s")
	}
	return nil
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	// A missing .env is fine, the environment alone may be complete.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
