package repository

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type backendFactory struct {
	name string
	open func(t *testing.T) Store
}

func backends(t *testing.T) []backendFactory {
	t.Helper()
	bs := []backendFactory{
		{name: "memory", open: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "pebble-mem", open: func(t *testing.T) Store {
			s, err := OpenPebble(memoryDir, WithPebbleSync(false))
			require.NoError(t, err)
			return s
		}},
		{name: "pebble-disk", open: func(t *testing.T) Store {
			s, err := OpenPebble(t.TempDir())
			require.NoError(t, err)
			return s
		}},
	}
	if dsn := os.Getenv("PODIUM_TEST_PG_DSN"); dsn != "" {
		bs = append(bs, backendFactory{name: "postgres", open: func(t *testing.T) Store {
			ctx := context.Background()
			s, err := OpenPostgres(ctx, dsn)
			require.NoError(t, err)
			_, err = s.pool.Exec(ctx, `TRUNCATE podium_entries; UPDATE podium_meta SET version = 0 WHERE id = 1`)
			require.NoError(t, err)
			return s
		}})
	}
	return bs
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func put(t *testing.T, s Store, kv map[string]float64) {
	t.Helper()
	err := s.Update(context.Background(), func(tx Txn) error {
		for k, v := range kv {
			if err := tx.Put(context.Background(), k, v); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func scan(t *testing.T, s Store, limit int) []Entry {
	t.Helper()
	var out []Entry
	require.NoError(t, s.View(context.Background(), func(r Reader) error {
		var err error
		out, err = r.Scan(context.Background(), limit)
		return err
	}))
	return out
}

func keys(es []Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}

func TestStoreEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.View(ctx, func(r Reader) error {
			es, err := r.Scan(ctx, 10)
			require.NoError(t, err)
			require.NotNil(t, es)
			require.Empty(t, es)

			n, err := r.Count(ctx)
			require.NoError(t, err)
			require.Zero(t, n)

			_, ok, err := r.Get(ctx, "nobody")
			require.NoError(t, err)
			require.False(t, ok)
			return nil
		}))
	})
}

func TestStorePutAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		put(t, s, map[string]float64{"alice": 10, "bob": 20.5})

		require.NoError(t, s.View(ctx, func(r Reader) error {
			e, ok, err := r.Get(ctx, "bob")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "bob", e.Key)
			require.Equal(t, 20.5, e.Score)

			n, err := r.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)
			return nil
		}))

		put(t, s, map[string]float64{"alice": 30})
		require.Equal(t, []string{"alice", "bob"}, keys(scan(t, s, 0)))
	})
}

func TestStoreReadYourWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		put(t, s, map[string]float64{"a": 1, "b": 2})

		require.NoError(t, s.Update(ctx, func(tx Txn) error {
			require.NoError(t, tx.Put(ctx, "c", 3))
			require.NoError(t, tx.Delete(ctx, "a"))

			e, ok, err := tx.Get(ctx, "c")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 3.0, e.Score)

			_, ok, err = tx.Get(ctx, "a")
			require.NoError(t, err)
			require.False(t, ok)

			es, err := tx.Scan(ctx, 0)
			require.NoError(t, err)
			require.Equal(t, []string{"c", "b"}, keys(es))

			n, err := tx.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)
			return nil
		}))
		require.Equal(t, []string{"c", "b"}, keys(scan(t, s, 0)))
	})
}

func TestStoreDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		put(t, s, map[string]float64{"a": 1, "b": 2, "c": 3})
		require.NoError(t, s.Update(ctx, func(tx Txn) error {
			return tx.Delete(ctx, "a", "c", "missing")
		}))
		require.Equal(t, []string{"b"}, keys(scan(t, s, 0)))
	})
}

func TestStoreRankingOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		put(t, s, map[string]float64{
			"zed":   5,
			"amy":   5,
			"neg":   -2.5,
			"zero":  0,
			"big":   1e12,
			"tiny":  1e-9,
			"minus": -1e12,
		})
		require.Equal(t,
			[]string{"big", "amy", "zed", "tiny", "zero", "neg", "minus"},
			keys(scan(t, s, 0)))
		require.Equal(t, []string{"big", "amy", "zed"}, keys(scan(t, s, 3)))
	})
}

func TestStoreNegativeZeroFolds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		put(t, s, map[string]float64{"a": math.Copysign(0, -1), "b": 0})
		es := scan(t, s, 0)
		require.Equal(t, []string{"a", "b"}, keys(es))
		for _, e := range es {
			require.False(t, math.Signbit(e.Score))
		}
	})
}

func TestStoreVersionStamping(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		put(t, s, map[string]float64{"a": 1})
		put(t, s, map[string]float64{"b": 2})

		require.NoError(t, s.View(ctx, func(r Reader) error {
			a, _, err := r.Get(ctx, "a")
			require.NoError(t, err)
			b, _, err := r.Get(ctx, "b")
			require.NoError(t, err)
			require.Equal(t, uint64(1), a.Version)
			require.Equal(t, uint64(2), b.Version)
			return nil
		}))
		es := scan(t, s, 0)
		require.Equal(t, uint64(2), es[0].Version)
		require.Equal(t, uint64(1), es[1].Version)
	})
}

func TestStoreReadOnlyUpdateDoesNotBumpVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Txn) error {
			_, err := tx.Scan(ctx, 0)
			return err
		}))
		put(t, s, map[string]float64{"a": 1})
		es := scan(t, s, 0)
		require.Equal(t, uint64(1), es[0].Version)
	})
}

func TestStoreFnErrorDiscardsWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		boom := errors.New("boom")
		err := s.Update(ctx, func(tx Txn) error {
			require.NoError(t, tx.Put(ctx, "a", 1))
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Empty(t, scan(t, s, 0))
	})
}

func TestStoreRejectsInvalidEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, tc := range []struct {
			key   string
			score float64
		}{
			{"", 1},
			{"   ", 1},
			{"a", math.NaN()},
			{"a", math.Inf(1)},
			{"a", math.Inf(-1)},
		} {
			err := s.Update(ctx, func(tx Txn) error { return tx.Put(ctx, tc.key, tc.score) })
			require.True(t, errors.Is(err, ErrInvalidEntry), "key=%q score=%v: %v", tc.key, tc.score, err)
		}
		require.Empty(t, scan(t, s, 0))
	})
}

func TestStoreConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var barrier sync.WaitGroup
		barrier.Add(2)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, key := range []string{"x", "y"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.Update(ctx, func(tx Txn) error {
					if _, err := tx.Scan(ctx, 0); err != nil {
						return err
					}
					if err := tx.Put(ctx, key, float64(i)); err != nil {
						return err
					}
					barrier.Done()
					barrier.Wait()
					return nil
				})
			}()
		}
		wg.Wait()

		conflicts := 0
		for _, err := range errs {
			if err != nil {
				require.True(t, errors.Is(err, ErrConflict), "unexpected error: %v", err)
				conflicts++
			}
		}
		require.Equal(t, 1, conflicts)
		require.Len(t, scan(t, s, 0), 1)
	})
}

func TestStoreClosed(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			require.NoError(t, s.Close())
			ctx := context.Background()
			require.ErrorIs(t, s.View(ctx, func(Reader) error { return nil }), ErrClosed)
			require.ErrorIs(t, s.Update(ctx, func(Txn) error { return nil }), ErrClosed)
		})
	}
}

func TestStoreCancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Update(ctx, func(tx Txn) error { return tx.Put(ctx, "a", 1) })
		require.ErrorIs(t, err, context.Canceled)
	})
}
