// Package retry runs an operation with bounded, jittered exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrExhausted marks the error returned once every attempt has failed with a
// retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Options configures backoff. The zero value is not usable; start from DefaultOptions.
type Options struct {
	InitialBackoff      time.Duration // wait before the second attempt
	MaxBackoff          time.Duration // cap on any single wait
	Multiplier          float64       // growth factor between waits
	RandomizationFactor float64       // wait is drawn from [b*(1-f), b*(1+f)]
	MaxAttempts         int           // total attempts including the first

	// Retryable decides whether an error should be retried. Nil retries nothing.
	Retryable func(error) bool
	// OnRetry, if set, is called before sleeping between attempts.
	OnRetry func(err error, attempt int, wait time.Duration)
}

// DefaultOptions returns the backoff used for ledger transactions.
func DefaultOptions() Options {
	return Options{
		InitialBackoff:      5 * time.Millisecond,
		MaxBackoff:          250 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		MaxAttempts:         5,
	}
}

// backoff returns the un-jittered wait after the given (1-based) failed attempt.
func (o Options) backoff(attempt int) time.Duration {
	b := float64(o.InitialBackoff) * math.Pow(o.Multiplier, float64(attempt-1))
	if ceiling := float64(o.MaxBackoff); o.MaxBackoff > 0 && b > ceiling {
		b = ceiling
	}
	return time.Duration(b)
}

func (o Options) jitter(b time.Duration) time.Duration {
	if o.RandomizationFactor <= 0 || b <= 0 {
		return b
	}
	delta := o.RandomizationFactor * float64(b)
	lo := float64(b) - delta
	return time.Duration(lo + rand.Float64()*(2*delta))
}

// MaxCycle is the longest total time Do can spend sleeping across all attempts.
// Callers must not impose deadlines shorter than this plus the work itself.
func (o Options) MaxCycle() time.Duration {
	var total time.Duration
	for a := 1; a < o.MaxAttempts; a++ {
		total += time.Duration(float64(o.backoff(a)) * (1 + math.Max(o.RandomizationFactor, 0)))
	}
	return total
}

// Validate reports configuration that would make Do misbehave.
func (o Options) Validate() error {
	switch {
	case o.MaxAttempts < 1:
		return errors.Newf("retry: max attempts must be >= 1, got %d", o.MaxAttempts)
	case o.InitialBackoff < 0 || o.MaxBackoff < 0:
		return errors.New("retry: backoff must not be negative")
	case o.Multiplier < 1:
		return errors.Newf("retry: multiplier must be >= 1, got %v", o.Multiplier)
	case o.RandomizationFactor < 0 || o.RandomizationFactor > 1:
		return errors.Newf("retry: randomization factor must be within [0,1], got %v", o.RandomizationFactor)
	}
	return nil
}

// Do calls fn until it succeeds, returns a non-retryable error, the context is
// done, or MaxAttempts is reached. It returns the number of attempts made.
// On exhaustion the last error is returned marked with ErrExhausted.
func Do(ctx context.Context, o Options, fn func(ctx context.Context, attempt int) error) (int, error) {
	if err := o.Validate(); err != nil {
		return 0, err
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if o.Retryable == nil || !o.Retryable(err) {
			return attempt, err
		}
		if attempt >= o.MaxAttempts {
			return attempt, errors.Mark(errors.Wrapf(err, "giving up after %d attempts", attempt), ErrExhausted)
		}

		wait := o.jitter(o.backoff(attempt))
		if o.OnRetry != nil {
			o.OnRetry(err, attempt, wait)
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return attempt, errors.WithSecondaryError(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
