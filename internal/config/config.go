// Package config loads node configuration from the environment. CLI
// flags override individual fields after loading.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Node configures one braid replica.
type Node struct {
	DB       string   `env:"BRAID_DB"        envDefault:"braid.db"`
	Name     string   `env:"BRAID_NODE_NAME"`
	BindAddr string   `env:"BRAID_BIND_ADDR" envDefault:"0.0.0.0"`
	BindPort int      `env:"BRAID_BIND_PORT" envDefault:"7946"`
	Join     []string `env:"BRAID_JOIN"      envSeparator:","`

	PairingTimeout     time.Duration `env:"BRAID_PAIRING_TIMEOUT"     envDefault:"30s"`
	SyncInterval       time.Duration `env:"BRAID_SYNC_INTERVAL"       envDefault:"5s"`
	CheckpointInterval int           `env:"BRAID_CHECKPOINT_INTERVAL" envDefault:"64"`

	LogLevel  string `env:"BRAID_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"BRAID_LOG_FORMAT" envDefault:"text"`
}

// Load reads the environment and validates the result.
func Load() (Node, error) {
	var cfg Node
	if err := env.Parse(&cfg); err != nil {
		return Node{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Node{}, err
	}
	return cfg, nil
}

// Validate checks ranges. It is called by Load and again after flags
// are applied.
func (c Node) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	if c.BindPort < 0 || c.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("bind port %d out of range", c.BindPort))
	}
	if c.PairingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pairing timeout %s must be positive", c.PairingTimeout))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync interval %s must be positive", c.SyncInterval))
	}
	if c.CheckpointInterval <= 0 {
		errs = append(errs, fmt.Errorf("checkpoint interval %d must be positive", c.CheckpointInterval))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q is not text or json", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c Node) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
