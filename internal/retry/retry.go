// Package retry runs an operation a bounded number of times with a backoff schedule between attempts.
// The sleeper is injectable so schedules can be driven by a virtual clock in tests.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned (wrapping the last operation error) when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Sleeper waits for d or until ctx is done. It returns ctx.Err() when interrupted.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of times op is invoked; values below 1 mean 1.
	MaxAttempts int
	// BackOff yields the delay before each retry. Nil means no delay.
	BackOff backoff.BackOff
	// Sleep waits between attempts. Nil means the real clock.
	Sleep Sleeper
	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Do invokes op until it succeeds, returns a permanent error, attempts run out, or ctx is done.
// attempt is 1-based. A backoff.Permanent error is unwrapped and returned immediately.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if p.BackOff != nil {
		p.BackOff.Reset()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Unwrap()
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		var next time.Duration
		if p.BackOff != nil {
			next = p.BackOff.NextBackOff()
			if next == backoff.Stop {
				break
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, next)
		}
		if err := sleep(ctx, next); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
