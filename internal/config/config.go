// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() builds a Config with defaults; Load layers a YAML file and env vars on top.
//   - Validation errors are marked with this package's sentinels.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/retry"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDSN names the entry store: memory://, pebble://<dir>, postgres://...
	// It has no default.
	StoreDSN string `koanf:"store_dsn"`

	// Capacity is K, the number of entries the leaderboard retains.
	Capacity int `koanf:"capacity"`

	// Retry policy for conflicting submissions.
	RetryMaxAttempts      int `koanf:"retry_max_attempts"`
	RetryInitialBackoffMS int `koanf:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS     int `koanf:"retry_max_backoff_ms"`

	// WriteTimeoutMS bounds a whole HTTP request. It must cover a full retry cycle.
	WriteTimeoutMS int `koanf:"write_timeout_ms"`

	// CORSAllowOrigin is sent as Access-Control-Allow-Origin.
	CORSAllowOrigin string `koanf:"cors_allow_origin"`

	// PebbleSync makes pebble commits fsync the WAL.
	PebbleSync bool `koanf:"pebble_sync"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		Capacity:              3,
		RetryMaxAttempts:      5,
		RetryInitialBackoffMS: 5,
		RetryMaxBackoffMS:     250,
		WriteTimeoutMS:        10_000,
		CORSAllowOrigin:       "*",
		PebbleSync:            true,
	}
}

// RetryOptions returns the submission retry policy.
func (c *Config) RetryOptions() retry.Options {
	o := retry.DefaultOptions()
	o.MaxAttempts = c.RetryMaxAttempts
	o.InitialBackoff = time.Duration(c.RetryInitialBackoffMS) * time.Millisecond
	o.MaxBackoff = time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
	return o
}

// WriteTimeout returns WriteTimeoutMS as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return errors.Mark(errors.New("addr must not be empty"), ErrInvalidConfig)
	case strings.TrimSpace(c.StoreDSN) == "":
		return ErrMissingStoreDSN
	case c.Capacity < 1:
		return errors.Mark(errors.Newf("capacity must be >= 1, got %d", c.Capacity), ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return errors.Mark(errors.Newf("log_format must be text or json, got %q", c.LogFormat), ErrInvalidConfig)
	}
	ro := c.RetryOptions()
	if err := ro.Validate(); err != nil {
		return errors.Mark(err, ErrInvalidConfig)
	}
	if cycle := ro.MaxCycle(); c.WriteTimeout() <= cycle {
		return errors.Mark(
			errors.Newf("write_timeout_ms (%s) must exceed a full retry cycle (%s)", c.WriteTimeout(), cycle),
			ErrInvalidConfig)
	}
	return nil
}
