package repository

import "github.com/cockroachdb/errors"

// Sentinel kinds for store errors. Match with errors.Is.
var (
	ErrConflict       = errors.New("transaction conflict")
	ErrClosed         = errors.New("store closed")
	ErrUnsupportedDSN = errors.New("unsupported store dsn")
	ErrInvalidEntry   = errors.New("invalid entry")
)
