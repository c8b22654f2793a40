package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/podium/pkg/metrics"
)

const backendMemory = "memory"

// MemoryStore is an in-process Store. Concurrency control is optimistic: an
// Update reads under the read lock and records the store version, then
// commits under the write lock only if the version is unchanged.
type MemoryStore struct {
	mu      sync.RWMutex
	root    *node
	byKey   map[string]Entry
	version uint64
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]Entry)}
}

func (s *MemoryStore) Backend() string { return backendMemory }

// memView reads the store without locking; callers hold s.mu.
type memView struct{ s *MemoryStore }

func (v memView) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := v.s.byKey[key]
	return e, ok, nil
}

func (v memView) Scan(_ context.Context, limit int) ([]Entry, error) {
	n := len(v.s.byKey)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	collectTopN(v.s.root, limit, v.s.byKey, &out)
	return out, nil
}

func (v memView) Count(context.Context) (int, error) {
	return len(v.s.byKey), nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(backendMemory, "view", msSince(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(memView{s})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(backendMemory, "update", msSince(start)) }()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	base := s.version
	txn := newStagedTxn(memView{s}, base+1)
	err := fn(txn)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if !txn.dirty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.version != base {
		metrics.RecordStoreError(backendMemory, "conflict")
		return ErrConflict
	}
	puts, dels := txn.mutations()
	for _, k := range dels {
		if old, ok := s.byKey[k]; ok {
			s.root = deleteNode(s.root, k, old.Score)
			delete(s.byKey, k)
		}
	}
	for _, e := range puts {
		if old, ok := s.byKey[e.Key]; ok {
			s.root = deleteNode(s.root, e.Key, old.Score)
		}
		s.byKey[e.Key] = e
		s.root = insert(s.root, e.Key, e.Score)
	}
	s.version = txn.Version()
	return nil
}

// Close releases the store. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.root = nil
	s.byKey = nil
	return nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
