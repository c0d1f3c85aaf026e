// Package backoff provides the exponential backoff iterator shared by the
// token repository, the refresh engine, and the invalidation engine for
// retrying transient storage failures. It wraps cenkalti/backoff/v4 rather
// than hand-rolling a retry loop, the way the teacher pulls the same library
// in transitively through its vault client dependency.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config tunes the exponential backoff policy. The defaults (base 50ms,
// multiplier 2, cap 8 attempts) match the spec's "default from the host
// ecosystem" guidance.
type Config struct {
	BaseDelay     time.Duration
	Multiplier    float64
	MaxAttempts   int
}

// DefaultConfig returns the spec's suggested policy.
func DefaultConfig() Config {
	return Config{BaseDelay: 50 * time.Millisecond, Multiplier: 2, MaxAttempts: 8}
}

// Iterator is a single-consumer stream of wait durations. Exhaustion
// terminates retries. A fresh Iterator is created at each retry-scope
// boundary (a Stage in the refresh engine, one repository call, one bulk
// invalidation pass) rather than shared across the whole operation — see
// DESIGN.md's Open Question resolution for why stages don't share one.
type Iterator struct {
	boff    backoff.BackOff
	attempt int
	max     int
}

// NewIterator builds an Iterator from cfg.
func NewIterator(cfg Config) *Iterator {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseDelay
	eb.Multiplier = cfg.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed wall time
	return &Iterator{boff: eb, max: cfg.MaxAttempts}
}

// Next returns the next wait duration and whether the iterator still has
// attempts remaining. Once exhausted it always returns (0, false).
func (it *Iterator) Next() (time.Duration, bool) {
	if it.attempt >= it.max {
		return 0, false
	}
	it.attempt++
	return it.boff.NextBackOff(), true
}

// Exhausted reports whether the iterator has no attempts left.
func (it *Iterator) Exhausted() bool { return it.attempt >= it.max }

// ErrExhausted is returned by Retry when the iterator runs out of attempts
// before fn succeeds.
var ErrExhausted = errors.New("backoff: retries exhausted")

// Retryable is implemented by errors that the caller judges transient
// (shard-unavailable, search timeout) and therefore worth another attempt.
// Retry stops immediately on any error that does not satisfy this.
type Retryable interface {
	Retryable() bool
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// iterator is exhausted. It sleeps between attempts on the caller's
// goroutine, honoring ctx cancellation — this is the tail-recursive-by-loop
// replacement for the cyclic self-resubmitting retry closures the spec's
// design notes warn against; the iterator is passed by the caller and the
// loop carries no hidden continuation state.
func Retry[T any](ctx context.Context, it *Iterator, fn func() (T, error)) (T, error) {
	for {
		val, err := fn()
		if err == nil {
			return val, nil
		}

		var r Retryable
		if !errors.As(err, &r) || !r.Retryable() {
			return val, err
		}

		wait, ok := it.Next()
		if !ok {
			var zero T
			return zero, errors.Join(ErrExhausted, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
