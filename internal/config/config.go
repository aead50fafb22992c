// Package config loads server settings from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/policy"
)

// Config holds every setting of the server
type Config struct {
	HTTPAddr    string `env:"AUCTION_HTTP_ADDR,default=:8080"`
	DatabaseURL string `env:"AUCTION_DATABASE_URL"`
	JWTSecret   string `env:"AUCTION_JWT_SECRET,required"`
	RedisURL    string `env:"AUCTION_REDIS_URL"`
	LogLevel    string `env:"AUCTION_LOG_LEVEL,default=info"`
	LogFormat   string `env:"AUCTION_LOG_FORMAT,default=text"`

	ExtensionWindow time.Duration `env:"AUCTION_EXTENSION_WINDOW,default=5m"`
	ExtensionDelta  time.Duration `env:"AUCTION_EXTENSION_DELTA,default=5m"`
	MaxExtensions   int           `env:"AUCTION_MAX_EXTENSIONS,default=0"`
	GateTimeout     time.Duration `env:"AUCTION_GATE_TIMEOUT,default=250ms"`

	SweepInterval    time.Duration `env:"AUCTION_SWEEP_INTERVAL,default=1s"`
	SweepConcurrency int           `env:"AUCTION_SWEEP_CONCURRENCY,default=4"`

	BidRate  float64 `env:"AUCTION_BID_RATE,default=5"`
	BidBurst int     `env:"AUCTION_BID_BURST,default=10"`
}

// Load reads an optional .env file, then decodes the environment.
// Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envdecode cannot
func (c *Config) Validate() error {
	switch {
	case c.ExtensionWindow < 0 || c.ExtensionDelta < 0:
		return fmt.Errorf("extension window and delta must not be negative")
	case c.MaxExtensions < 0:
		return fmt.Errorf("max extensions must not be negative")
	case c.GateTimeout <= 0:
		return fmt.Errorf("gate timeout must be positive")
	case c.SweepInterval < 10*time.Millisecond:
		return fmt.Errorf("sweep interval must be at least 10ms")
	case c.SweepConcurrency <= 0:
		return fmt.Errorf("sweep concurrency must be positive")
	}
	return nil
}

// Engine returns the auction engine settings
func (c *Config) Engine() auction.Config {
	return auction.Config{
		Extension: policy.Extension{
			Window:        c.ExtensionWindow,
			Delta:         c.ExtensionDelta,
			MaxExtensions: c.MaxExtensions,
		},
		GateTimeout: c.GateTimeout,
	}
}

// Sweeper returns the lifecycle sweeper settings
func (c *Config) Sweeper() auction.SweeperConfig {
	return auction.SweeperConfig{
		Interval:    c.SweepInterval,
		Concurrency: c.SweepConcurrency,
	}
}
