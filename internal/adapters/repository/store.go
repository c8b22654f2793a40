// Package repository defines the entry store contract and its backends.
//
// Every backend offers point lookup, a ranked scan (score DESC, key ASC),
// delete-by-key-set and a serializable Update. Writes inside Update are staged
// and become visible atomically at commit, stamped with the store's next
// logical version. An Update that lost a race to a concurrent commit fails
// with ErrConflict and leaves the store unchanged.
package repository

import (
	"context"

	"github.com/okian/podium/internal/domain/model"
)

// Entry is the row type held by every backend.
type Entry = model.Entry

// Reader is a consistent point-in-time view of the store.
type Reader interface {
	// Get returns the entry for key and whether it exists.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Scan returns up to limit entries in ranking order. limit <= 0 returns all.
	Scan(ctx context.Context, limit int) ([]Entry, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}

// Txn is a Reader that can stage writes. Reads observe the txn's own writes.
type Txn interface {
	Reader
	// Put creates or replaces the entry for key.
	Put(ctx context.Context, key string, score float64) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Version is the logical version the txn's writes commit at.
	Version() uint64
}

// Store is the persistent entry store.
type Store interface {
	// View runs fn against a single consistent snapshot.
	View(ctx context.Context, fn func(Reader) error) error
	// Update runs fn as one serializable unit. If fn returns an error nothing is
	// written. If a concurrent commit invalidated fn's reads, Update returns an
	// error marked with ErrConflict and nothing is written.
	Update(ctx context.Context, fn func(Txn) error) error
	// Backend names the implementation, e.g. "memory", "pebble", "postgres".
	Backend() string
	Close() error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}
