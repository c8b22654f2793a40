package repository

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/domain/model"
)

// stagedTxn buffers writes over a base snapshot. Backends read through it while
// fn runs and apply its mutations at commit.
type stagedTxn struct {
	base    Reader
	version uint64
	puts    map[string]Entry
	dels    map[string]struct{}
}

var _ Txn = (*stagedTxn)(nil)

func newStagedTxn(base Reader, version uint64) *stagedTxn {
	return &stagedTxn{
		base:    base,
		version: version,
		puts:    make(map[string]Entry),
		dels:    make(map[string]struct{}),
	}
}

func (t *stagedTxn) Version() uint64 { return t.version }

func (t *stagedTxn) dirty() bool { return len(t.puts) > 0 || len(t.dels) > 0 }

func (t *stagedTxn) Get(ctx context.Context, key string) (Entry, bool, error) {
	if e, ok := t.puts[key]; ok {
		return e, true, nil
	}
	if _, ok := t.dels[key]; ok {
		return Entry{}, false, nil
	}
	return t.base.Get(ctx, key)
}

func (t *stagedTxn) Scan(ctx context.Context, limit int) ([]Entry, error) {
	if !t.dirty() {
		return t.base.Scan(ctx, limit)
	}
	all, err := t.base.Scan(ctx, 0)
	if err != nil {
		return nil, err
	}
	merged := make([]Entry, 0, len(all)+len(t.puts))
	for _, e := range all {
		if _, ok := t.puts[e.Key]; ok {
			continue
		}
		if _, ok := t.dels[e.Key]; ok {
			continue
		}
		merged = append(merged, e)
	}
	for _, e := range t.puts {
		merged = append(merged, e)
	}
	model.SortEntries(merged)
	return model.Truncate(merged, limit), nil
}

func (t *stagedTxn) Count(ctx context.Context) (int, error) {
	if !t.dirty() {
		return t.base.Count(ctx)
	}
	all, err := t.Scan(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (t *stagedTxn) Put(_ context.Context, key string, score float64) error {
	if strings.TrimSpace(key) == "" {
		return errors.Mark(errors.New("empty key"), ErrInvalidEntry)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return errors.Mark(errors.Newf("non-finite score %v for %q", score, key), ErrInvalidEntry)
	}
	if score == 0 {
		score = 0 // fold -0 into +0 so index encodings agree with float equality
	}
	delete(t.dels, key)
	t.puts[key] = Entry{Key: key, Score: score, Version: t.version}
	return nil
}

func (t *stagedTxn) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(t.puts, k)
		t.dels[k] = struct{}{}
	}
	return nil
}

// mutations returns staged puts and deletes in key order.
func (t *stagedTxn) mutations() ([]Entry, []string) {
	puts := make([]Entry, 0, len(t.puts))
	for _, e := range t.puts {
		puts = append(puts, e)
	}
	sort.Slice(puts, func(i, j int) bool { return puts[i].Key < puts[j].Key })

	dels := make([]string, 0, len(t.dels))
	for k := range t.dels {
		dels = append(dels, k)
	}
	sort.Strings(dels)
	return puts, dels
}
