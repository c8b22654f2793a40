// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/adapters/repository"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/internal/ledger"
	"github.com/okian/podium/internal/retry"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Sentinel errors for the service lifecycle.
var (
	ErrNotStarted = errors.New("service not started")
	ErrNoStore    = errors.New("no store configured")
)

// Service implements the API dependencies for the leaderboard system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store  repository.Store
	ledger *ledger.Ledger

	// Configuration
	storeDSN   string
	ownsStore  bool
	capacity   int
	retry      retry.Options
	pebbleSync bool

	// State
	started   bool
	startedAt time.Time

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStoreDSN names the store Start opens, e.g. "pebble:///var/lib/podium".
func WithStoreDSN(dsn string) Option {
	return func(s *Service) {
		s.storeDSN = dsn
	}
}

// WithStore uses an already opened store. The caller keeps ownership and
// closes it after Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithCapacity sets K, the number of retained entries.
func WithCapacity(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.capacity = k
		}
	}
}

// WithRetryOptions sets the conflict retry policy.
func WithRetryOptions(o retry.Options) Option {
	return func(s *Service) {
		s.retry = o
	}
}

// WithPebbleSync controls WAL fsync for pebble stores opened by Start.
func WithPebbleSync(sync bool) Option {
	return func(s *Service) {
		s.pebbleSync = sync
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		capacity:   ledger.DefaultCapacity,
		retry:      retry.DefaultOptions(),
		pebbleSync: true,
		logger:     nil, // Will be replaced when service starts
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens the store, if one was not supplied, and builds the ledger.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting leaderboard service...")

	store := s.store
	if store == nil {
		if s.storeDSN == "" {
			return ErrNoStore
		}
		var err error
		store, err = repository.Open(ctx, s.storeDSN, repository.WithPebbleSync(s.pebbleSync))
		if err != nil {
			return errors.Wrapf(err, "open store %s", repository.Redact(s.storeDSN))
		}
		s.ownsStore = true
	}

	l, err := ledger.New(store,
		ledger.WithCapacity(s.capacity),
		ledger.WithRetryOptions(s.retry),
		ledger.WithLogger(s.logger.Named("ledger").With(logger.String("backend", store.Backend()))),
	)
	if err != nil {
		if s.ownsStore {
			_ = store.Close()
			s.ownsStore = false
		}
		return err
	}

	s.store = store
	s.ledger = l
	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "leaderboard service started",
		logger.String("backend", store.Backend()),
		logger.Int("capacity", s.capacity),
		logger.Int("retryMaxAttempts", s.retry.MaxAttempts),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping leaderboard service...")

	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(context.Background(), "closing store failed", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}
	s.ledger = nil

	s.started = false
	s.logger.Info(context.Background(), "leaderboard service stopped")
}

func (s *Service) current() (*ledger.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.ledger, nil
}

// Submit offers a score for key. See ledger.Ledger.Submit.
func (s *Service) Submit(ctx context.Context, key string, score float64) (ledger.Result, error) {
	l, err := s.current()
	if err != nil {
		return ledger.Result{}, err
	}
	return l.Submit(ctx, key, score)
}

// TopK returns the current leaderboard.
func (s *Service) TopK(ctx context.Context) ([]model.Entry, error) {
	l, err := s.current()
	if err != nil {
		return nil, err
	}
	return l.TopK(ctx)
}

// Ping checks that the store answers reads.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	store, started := s.store, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	if p, ok := store.(repository.Pinger); ok {
		return p.Ping(ctx)
	}
	return store.View(ctx, func(r repository.Reader) error {
		_, err := r.Count(ctx)
		return err
	})
}

// Backend names the store implementation, or "" before Start.
func (s *Service) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return ""
	}
	return s.store.Backend()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"capacity":         s.capacity,
		"retryMaxAttempts": s.retry.MaxAttempts,
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()
	stats["goroutines"] = goroutines
	stats["heapAllocBytes"] = mem.HeapAlloc
	metrics.UpdateSystemMemoryUsage(mem.HeapAlloc)
	metrics.UpdateSystemGoroutineCount(goroutines)

	if s.started {
		ctx := context.Background()
		stats["backend"] = s.store.Backend()
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())

		err := s.store.View(ctx, func(r repository.Reader) error {
			n, err := r.Count(ctx)
			if err != nil {
				return err
			}
			stats["entries"] = n
			metrics.UpdateLeaderboardSize(min(n, s.capacity))
			return nil
		})
		if err != nil {
			stats["storeError"] = err.Error()
		}
	}

	return stats
}
