package repository

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/okian/podium/pkg/metrics"
)

const backendPebble = "pebble"

// Key layout:
//
//	e/<key>                   -> score(8, float bits) | version(8)
//	s/<desc score(8)><key>    -> version(8)
//	m/version                 -> version(8)
//
// The s/ index sorts in ranking order so a bounded forward scan is a top-N.
var (
	entryPrefix = []byte("e/")
	rankPrefix  = []byte("s/")
	rankUpper   = []byte("s0")
	versionKey  = []byte("m/version")
)

// PebbleStore keeps entries in an embedded pebble LSM. Reads run against a
// pebble snapshot; commits are serialized and validated against the version
// observed by the snapshot.
type PebbleStore struct {
	db    *pebble.DB
	write *pebble.WriteOptions

	mu     sync.RWMutex // guards closed against in-flight calls
	closed bool

	commitMu sync.Mutex
	version  uint64 // last committed version, guarded by commitMu
}

var _ Store = (*PebbleStore)(nil)

// OpenPebble opens (or creates) a store in dir. The dir ":memory:" uses an
// in-memory filesystem.
func OpenPebble(dir string, opts ...Option) (*PebbleStore, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(&o)
	}
	popts := &pebble.Options{}
	if dir == memoryDir {
		popts.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %q", dir)
	}
	s := &PebbleStore{db: db, write: o.pebbleWrite}

	snap := db.NewSnapshot()
	v, err := readVersion(snap)
	_ = snap.Close()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.version = v
	return s, nil
}

func (s *PebbleStore) Backend() string { return backendPebble }

func (s *PebbleStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(backendPebble, "view", msSince(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(pebbleView{snap})
}

func (s *PebbleStore) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(backendPebble, "update", msSince(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	snap := s.db.NewSnapshot()
	defer snap.Close()
	base, err := readVersion(snap)
	if err != nil {
		return err
	}
	view := pebbleView{snap}
	txn := newStagedTxn(view, base+1)
	if err := fn(txn); err != nil {
		return err
	}
	if !txn.dirty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.version != base {
		metrics.RecordStoreError(backendPebble, "conflict")
		return ErrConflict
	}

	// No commit happened since snap was taken, so it still reflects the
	// rank keys that need replacing.
	b := s.db.NewBatch()
	defer b.Close()
	puts, dels := txn.mutations()
	for _, k := range dels {
		old, ok, err := view.Get(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := b.Delete(rankKey(old.Score, k), nil); err != nil {
			return errors.Wrap(err, "stage rank delete")
		}
		if err := b.Delete(entryKey(k), nil); err != nil {
			return errors.Wrap(err, "stage entry delete")
		}
	}
	for _, e := range puts {
		old, ok, err := view.Get(ctx, e.Key)
		if err != nil {
			return err
		}
		if ok {
			if err := b.Delete(rankKey(old.Score, e.Key), nil); err != nil {
				return errors.Wrap(err, "stage rank delete")
			}
		}
		if err := b.Set(entryKey(e.Key), encodeEntryValue(e), nil); err != nil {
			return errors.Wrap(err, "stage entry")
		}
		if err := b.Set(rankKey(e.Score, e.Key), encodeUint64(e.Version), nil); err != nil {
			return errors.Wrap(err, "stage rank")
		}
	}
	next := txn.Version()
	if err := b.Set(versionKey, encodeUint64(next), nil); err != nil {
		return errors.Wrap(err, "stage version")
	}
	if err := b.Commit(s.write); err != nil {
		metrics.RecordStoreError(backendPebble, "commit")
		return errors.Wrap(err, "commit pebble batch")
	}
	s.version = next
	return nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type pebbleView struct{ snap *pebble.Snapshot }

func (v pebbleView) Get(_ context.Context, key string) (Entry, bool, error) {
	val, closer, err := v.snap.Get(entryKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "get %q", key)
	}
	defer closer.Close()
	e, err := decodeEntryValue(key, val)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (v pebbleView) Scan(_ context.Context, limit int) ([]Entry, error) {
	it, err := v.snap.NewIter(&pebble.IterOptions{LowerBound: rankPrefix, UpperBound: rankUpper})
	if err != nil {
		return nil, errors.Wrap(err, "open rank iterator")
	}
	var out []Entry
	for valid := it.First(); valid; valid = it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		k := it.Key()
		if len(k) < len(rankPrefix)+8 {
			_ = it.Close()
			return nil, errors.Newf("malformed rank key %x", k)
		}
		score := decodeScore(k[len(rankPrefix) : len(rankPrefix)+8])
		e := Entry{Key: string(k[len(rankPrefix)+8:]), Score: score}
		if val := it.Value(); len(val) == 8 {
			e.Version = binary.BigEndian.Uint64(val)
		}
		out = append(out, e)
	}
	if err := it.Close(); err != nil {
		return nil, errors.Wrap(err, "close rank iterator")
	}
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

func (v pebbleView) Count(context.Context) (int, error) {
	it, err := v.snap.NewIter(&pebble.IterOptions{LowerBound: rankPrefix, UpperBound: rankUpper})
	if err != nil {
		return 0, errors.Wrap(err, "open rank iterator")
	}
	n := 0
	for valid := it.First(); valid; valid = it.Next() {
		n++
	}
	return n, errors.Wrap(it.Close(), "close rank iterator")
}

func readVersion(snap *pebble.Snapshot) (uint64, error) {
	val, closer, err := snap.Get(versionKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read version")
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.Newf("malformed version value %x", val)
	}
	return binary.BigEndian.Uint64(val), nil
}

func entryKey(key string) []byte {
	return append(append(make([]byte, 0, len(entryPrefix)+len(key)), entryPrefix...), key...)
}

func rankKey(score float64, key string) []byte {
	b := make([]byte, 0, len(rankPrefix)+8+len(key))
	b = append(b, rankPrefix...)
	b = binary.BigEndian.AppendUint64(b, encodeScore(score))
	return append(b, key...)
}

// encodeScore maps a float to a uint64 whose big-endian bytes sort in
// descending score order.
func encodeScore(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits>>63 == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return ^bits
}

func decodeScore(b []byte) float64 {
	bits := ^binary.BigEndian.Uint64(b)
	if bits>>63 == 1 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), v)
}

func encodeEntryValue(e Entry) []byte {
	b := make([]byte, 0, 16)
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(e.Score))
	return binary.BigEndian.AppendUint64(b, e.Version)
}

func decodeEntryValue(key string, val []byte) (Entry, error) {
	if len(val) != 16 {
		return Entry{}, errors.Newf("malformed entry value for %q", key)
	}
	return Entry{
		Key:     key,
		Score:   math.Float64frombits(binary.BigEndian.Uint64(val[:8])),
		Version: binary.BigEndian.Uint64(val[8:]),
	}, nil
}
