package repository

import "github.com/cockroachdb/pebble"

// Option applies a configuration option to Open.
type Option func(*openOptions)

type openOptions struct {
	pebbleWrite *pebble.WriteOptions
	pgSchema    bool
}

func defaultOpenOptions() openOptions {
	return openOptions{pebbleWrite: pebble.Sync, pgSchema: true}
}

// WithPebbleSync controls whether pebble commits fsync the WAL.
func WithPebbleSync(sync bool) Option {
	return func(o *openOptions) {
		if sync {
			o.pebbleWrite = pebble.Sync
		} else {
			o.pebbleWrite = pebble.NoSync
		}
	}
}

// WithPostgresSchema controls whether OpenPostgres creates its tables.
func WithPostgresSchema(create bool) Option {
	return func(o *openOptions) {
		o.pgSchema = create
	}
}
