package config

import (
	"github.com/cockroachdb/errors"
)

// Sentinel error kinds for this package. These allow errors.Is from callers.
var (
	ErrInvalidConfig   = errors.New("invalid config")
	ErrLoadConfig      = errors.New("load config failed")
	ErrMissingStoreDSN = errors.New("store_dsn is required (set PODIUM_STORE_DSN)")
)
