package repository

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

const memoryDir = ":memory:"

// Open returns the Store named by dsn:
//
//	memory://                      in-process treap
//	pebble:///var/lib/podium       embedded pebble at the given directory
//	pebble://:memory:              pebble on an in-memory filesystem
//	postgres://user:pw@host/db     PostgreSQL (postgresql:// also accepted)
func Open(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, errors.Mark(errors.Newf("dsn %q has no scheme", Redact(dsn)), ErrUnsupportedDSN)
	}
	switch strings.ToLower(scheme) {
	case backendMemory:
		return NewMemoryStore(), nil
	case backendPebble:
		if rest == "" {
			return nil, errors.Mark(errors.New("pebble dsn needs a directory"), ErrUnsupportedDSN)
		}
		return OpenPebble(rest, opts...)
	case backendPostgres, "postgresql":
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return nil, errors.Mark(errors.Newf("unknown scheme %q", scheme), ErrUnsupportedDSN)
	}
}

// Redact strips credentials from a dsn for logging.
func Redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
