package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryableErr struct{ error }

func (retryableErr) Retryable() bool { return true }

// Property 9: retry — a sequence of K shard-unavailable failures followed
// by a success causes the operation to succeed iff K <= MaxAttempts (one
// initial call plus up to MaxAttempts retries); otherwise the final error
// is reported. Uses a counting fake rather than
// a sqlmock-driven repository test since no mock-DB library survived the
// dependency trim (see DESIGN.md) — the property belongs to the iterator,
// not to any particular store backend.
func TestRetry_SucceedsWhenFailuresUnderMaxAttempts(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 5}

	for k := 0; k < cfg.MaxAttempts; k++ {
		t.Run("", func(t *testing.T) {
			calls := 0
			it := NewIterator(cfg)
			got, err := Retry(context.Background(), it, func() (int, error) {
				calls++
				if calls <= k {
					return 0, retryableErr{errors.New("shard unavailable")}
				}
				return 42, nil
			})
			require.NoError(t, err)
			assert.Equal(t, 42, got)
			assert.Equal(t, k+1, calls)
		})
	}
}

func TestRetry_FailsWhenFailuresExceedMaxAttempts(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	it := NewIterator(cfg)

	calls := 0
	_, err := Retry(context.Background(), it, func() (int, error) {
		calls++
		return 0, retryableErr{errors.New("shard unavailable")}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	// One initial attempt plus MaxAttempts retries from the iterator.
	assert.Equal(t, cfg.MaxAttempts+1, calls)
}

func TestRetry_NonRetryableErrorStopsImmediately(t *testing.T) {
	cfg := DefaultConfig()
	it := NewIterator(cfg)

	calls := 0
	sentinel := errors.New("permanent failure")
	_, err := Retry(context.Background(), it, func() (int, error) {
		calls++
		return 0, sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	cfg := Config{BaseDelay: time.Hour, Multiplier: 2, MaxAttempts: 3}
	it := NewIterator(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, it, func() (int, error) {
		return 0, retryableErr{errors.New("shard unavailable")}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterator_ExhaustedReportsWhenAttemptsRunOut(t *testing.T) {
	it := NewIterator(Config{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 2})

	assert.False(t, it.Exhausted())
	_, ok := it.Next()
	assert.True(t, ok)
	_, ok = it.Next()
	assert.True(t, ok)
	assert.True(t, it.Exhausted())
	_, ok = it.Next()
	assert.False(t, ok)
}
