package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastOptions() Options {
	o := DefaultOptions()
	o.InitialBackoff = time.Microsecond
	o.MaxBackoff = 10 * time.Microsecond
	o.Retryable = func(err error) bool { return errors.Is(err, errTransient) }
	return o
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fastOptions(), func(context.Context, int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var retried []int
	o := fastOptions()
	o.OnRetry = func(err error, attempt int, wait time.Duration) {
		require.ErrorIs(t, err, errTransient)
		retried = append(retried, attempt)
	}
	n, err := Do(context.Background(), o, func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errors.Wrap(errTransient, "conflict")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoExhausts(t *testing.T) {
	o := fastOptions()
	o.MaxAttempts = 4
	calls := 0
	n, err := Do(context.Background(), o, func(context.Context, int) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 4, calls)
	require.True(t, errors.Is(err, ErrExhausted))
	require.True(t, errors.Is(err, errTransient), "the last cause must stay visible")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	n, err := Do(context.Background(), fastOptions(), func(context.Context, int) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.False(t, errors.Is(err, ErrExhausted))
	require.Equal(t, 1, n)
	require.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	o := fastOptions()
	o.InitialBackoff = time.Hour
	o.MaxBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	o.OnRetry = func(error, int, time.Duration) { cancel() }

	_, err := Do(ctx, o, func(context.Context, int) error { return errTransient })
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoRejectsCancelledContextUpFront(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Do(ctx, fastOptions(), func(context.Context, int) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, n)
}

func TestBackoffGrowthAndCap(t *testing.T) {
	o := Options{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 2, MaxAttempts: 5}
	require.Equal(t, 10*time.Millisecond, o.backoff(1))
	require.Equal(t, 20*time.Millisecond, o.backoff(2))
	require.Equal(t, 40*time.Millisecond, o.backoff(3))
	require.Equal(t, 50*time.Millisecond, o.backoff(4))
	require.Equal(t, 120*time.Millisecond, o.MaxCycle())
}

func TestJitterBounds(t *testing.T) {
	o := Options{RandomizationFactor: 0.5}
	for i := 0; i < 1000; i++ {
		w := o.jitter(100 * time.Millisecond)
		require.GreaterOrEqual(t, w, 50*time.Millisecond)
		require.LessOrEqual(t, w, 150*time.Millisecond)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.MaxAttempts = 0
	require.Error(t, o.Validate())

	o = DefaultOptions()
	o.Multiplier = 0.5
	require.Error(t, o.Validate())

	o = DefaultOptions()
	o.RandomizationFactor = 2
	require.Error(t, o.Validate())
}
