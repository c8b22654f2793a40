package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/podium/pkg/metrics"
)

const backendPostgres = "postgres"

const pgSchema = `
CREATE TABLE IF NOT EXISTS podium_entries (
	key     TEXT PRIMARY KEY,
	score   DOUBLE PRECISION NOT NULL,
	version BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS podium_entries_rank ON podium_entries (score DESC, key COLLATE "C" ASC);
CREATE TABLE IF NOT EXISTS podium_meta (
	id      INT PRIMARY KEY,
	version BIGINT NOT NULL
);
INSERT INTO podium_meta (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// SQLSTATEs that mean the transaction lost a race and may be retried.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

// PostgresStore keeps entries in PostgreSQL. Updates run in SERIALIZABLE
// transactions and additionally bump a version row with a compare-and-set, so
// a lost race surfaces either as a serialization failure or as a failed CAS.
type PostgresStore struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and, unless disabled with WithPostgresSchema,
// creates the tables it needs.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(&o)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if o.pgSchema {
		if _, err := pool.Exec(ctx, pgSchema); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "create schema")
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Backend() string { return backendPostgres }

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) View(ctx context.Context, fn func(Reader) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(backendPostgres, "view", msSince(start)) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return s.classify(err, "begin view")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(pgView{tx}); err != nil {
		return err
	}
	return s.classify(tx.Commit(ctx), "commit view")
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(backendPostgres, "update", msSince(start)) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return s.classify(err, "begin update")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var base int64
	if err := tx.QueryRow(ctx, `SELECT version FROM podium_meta WHERE id = 1`).Scan(&base); err != nil {
		return s.classify(err, "read version")
	}
	txn := newStagedTxn(pgView{tx}, uint64(base)+1)
	if err := fn(txn); err != nil {
		return s.classify(err, "update")
	}
	if !txn.dirty() {
		return s.classify(tx.Commit(ctx), "commit update")
	}

	tag, err := tx.Exec(ctx, `UPDATE podium_meta SET version = $1 WHERE id = 1 AND version = $2`, int64(txn.Version()), base)
	if err != nil {
		return s.classify(err, "bump version")
	}
	if tag.RowsAffected() != 1 {
		metrics.RecordStoreError(backendPostgres, "conflict")
		return ErrConflict
	}
	puts, dels := txn.mutations()
	if len(dels) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM podium_entries WHERE key = ANY($1)`, dels); err != nil {
			return s.classify(err, "delete entries")
		}
	}
	for _, e := range puts {
		_, err := tx.Exec(ctx, `
INSERT INTO podium_entries (key, score, version) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET score = EXCLUDED.score, version = EXCLUDED.version`,
			e.Key, e.Score, int64(e.Version))
		if err != nil {
			return s.classify(err, "upsert entry")
		}
	}
	return s.classify(tx.Commit(ctx), "commit update")
}

func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}

// classify marks serialization failures and deadlocks with ErrConflict.
func (s *PostgresStore) classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected:
			metrics.RecordStoreError(backendPostgres, "conflict")
			return errors.Mark(errors.Wrap(err, op), ErrConflict)
		}
		metrics.RecordStoreError(backendPostgres, pgErr.Code)
	}
	return errors.Wrap(err, op)
}

type pgView struct{ tx pgx.Tx }

func (v pgView) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		score   float64
		version int64
	)
	err := v.tx.QueryRow(ctx, `SELECT score, version FROM podium_entries WHERE key = $1`, key).Scan(&score, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, Score: score, Version: uint64(version)}, true, nil
}

func (v pgView) Scan(ctx context.Context, limit int) ([]Entry, error) {
	const q = `SELECT key, score, version FROM podium_entries ORDER BY score DESC, key COLLATE "C" ASC`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = v.tx.Query(ctx, q+` LIMIT $1`, limit)
	} else {
		rows, err = v.tx.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			version int64
		)
		if err := rows.Scan(&e.Key, &e.Score, &version); err != nil {
			return nil, err
		}
		e.Version = uint64(version)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (v pgView) Count(ctx context.Context) (int, error) {
	var n int
	err := v.tx.QueryRow(ctx, `SELECT count(*) FROM podium_entries`).Scan(&n)
	return n, err
}
