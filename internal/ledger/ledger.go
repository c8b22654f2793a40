// Package ledger maintains a bounded top-K leaderboard on top of a
// repository.Store.
//
// Every submission reads the board, decides with Admit and applies the
// decision inside one Store.Update. Updates that lose a race are retried with
// bounded backoff, so concurrent submissions behave as if applied one at a
// time. Reads come from a single Store.View.
package ledger

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/internal/retry"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Ledger is safe for concurrent use. It keeps no board state of its own.
type Ledger struct {
	store    repository.Store
	capacity int
	retry    retry.Options
	logger   logger.Logger
}

// Result describes a completed submission.
type Result struct {
	Outcome Outcome
	// Accepted is false only for Rejected.
	Accepted bool
	// Entries is the board after the submission, in ranking order.
	Entries []model.Entry
	// Attempts counts store transactions, including conflicted ones.
	Attempts int
}

// Err returns ErrRejected for a rejected submission and nil otherwise.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	return ErrRejected
}

// New returns a Ledger over store.
func New(store repository.Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: nil store")
	}
	l := &Ledger{
		store:    store,
		capacity: DefaultCapacity,
		retry:    retry.DefaultOptions(),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.retry.Retryable = isConflict
	l.retry.OnRetry = l.onRetry
	if err := l.retry.Validate(); err != nil {
		return nil, errors.Wrap(err, "ledger")
	}
	return l, nil
}

// Capacity returns K.
func (l *Ledger) Capacity() int { return l.capacity }

// RetryOptions returns the effective retry policy.
func (l *Ledger) RetryOptions() retry.Options { return l.retry }

// Submit offers score under key. A rejected submission returns a Result with
// Accepted=false and a nil error; errors are reserved for invalid input and
// store failures, which leave the board unchanged.
func (l *Ledger) Submit(ctx context.Context, key string, score float64) (Result, error) {
	if err := validate(key, score); err != nil {
		metrics.RecordInvalidSubmission()
		return Result{}, err
	}
	start := time.Now()

	var res Result
	attempts, err := retry.Do(ctx, l.retry, func(ctx context.Context, _ int) error {
		res = Result{}
		return l.store.Update(ctx, func(tx repository.Txn) error {
			current, err := tx.Scan(ctx, 0)
			if err != nil {
				return err
			}
			d := Admit(current, key, score, l.capacity)
			if d.Outcome.writes() {
				if err := tx.Put(ctx, key, score); err != nil {
					return err
				}
				if len(d.Evict) > 0 {
					if err := tx.Delete(ctx, d.Evict...); err != nil {
						return err
					}
				}
			}
			entries, err := tx.Scan(ctx, l.capacity)
			if err != nil {
				return err
			}
			res.Outcome = d.Outcome
			res.Accepted = d.Outcome.Accepted()
			res.Entries = entries
			return nil
		})
	})
	metrics.RecordTransactionAttempts(attempts)
	if err != nil {
		metrics.RecordSubmission("failed")
		return Result{}, l.classify(ctx, key, attempts, err)
	}
	res.Attempts = attempts

	metrics.RecordSubmission(res.Outcome.String())
	metrics.RecordSubmitLatency(float64(time.Since(start).Microseconds()) / 1000)
	metrics.UpdateLeaderboardSize(len(res.Entries))
	l.logger.Debug(ctx, "submission applied",
		logger.String("key", key),
		logger.Float64("score", score),
		logger.String("outcome", res.Outcome.String()),
		logger.Int("attempts", attempts),
	)
	return res, nil
}

// TopK returns the board in ranking order from a single consistent read.
func (l *Ledger) TopK(ctx context.Context) ([]model.Entry, error) {
	var entries []model.Entry
	err := l.store.View(ctx, func(r repository.Reader) error {
		var err error
		entries, err = r.Scan(ctx, l.capacity)
		return err
	})
	if err != nil {
		l.logger.Error(ctx, "leaderboard read failed", logger.Error(err))
		return nil, errors.Mark(errors.Wrap(err, "read leaderboard"), ErrStoreUnavailable)
	}
	metrics.RecordLeaderboardRead()
	return entries, nil
}

func validate(key string, score float64) error {
	if strings.TrimSpace(key) == "" {
		return errors.Mark(errors.New("key must be a non-empty string"), ErrInvalidInput)
	}
	if strings.IndexByte(key, 0) >= 0 {
		return errors.Mark(errors.New("key must not contain NUL"), ErrInvalidInput)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return errors.Mark(errors.Newf("score must be a finite number, got %v", score), ErrInvalidInput)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}

func (l *Ledger) onRetry(err error, attempt int, wait time.Duration) {
	metrics.RecordTransactionConflict()
	l.logger.Debug(context.Background(), "submission conflicted, retrying",
		logger.Int("attempt", attempt),
		logger.Duration("backoff", wait),
		logger.Error(err),
	)
}

func (l *Ledger) classify(ctx context.Context, key string, attempts int, err error) error {
	switch {
	case errors.Is(err, repository.ErrInvalidEntry):
		metrics.RecordInvalidSubmission()
		return errors.Mark(err, ErrInvalidInput)
	case errors.Is(err, retry.ErrExhausted):
		metrics.RecordRetriesExhausted()
		l.logger.Warn(ctx, "submission gave up after conflicts",
			logger.String("key", key),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
		// Exhaustion is reported as a store failure of the conflict kind.
		return errors.Mark(errors.Mark(err, ErrConflictRetryExhausted), ErrStoreUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, "submit")
	default:
		l.logger.Error(ctx, "submission failed",
			logger.String("key", key),
			logger.String("backend", l.store.Backend()),
			logger.Error(err),
		)
		return errors.Mark(errors.Wrap(err, "submit"), ErrStoreUnavailable)
	}
}
