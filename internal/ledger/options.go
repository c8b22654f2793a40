package ledger

import (
	"github.com/okian/podium/internal/retry"
	"github.com/okian/podium/pkg/logger"
)

// DefaultCapacity is the number of entries retained when no capacity is set.
const DefaultCapacity = 3

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithCapacity sets how many entries the board retains.
func WithCapacity(k int) Option {
	return func(l *Ledger) {
		if k > 0 {
			l.capacity = k
		}
	}
}

// WithRetryOptions sets the backoff used when a submission conflicts.
func WithRetryOptions(o retry.Options) Option {
	return func(l *Ledger) {
		l.retry = o
	}
}

// WithLogger sets a custom logger for the ledger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}
