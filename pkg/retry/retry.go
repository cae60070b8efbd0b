// Package retry implements a reusable bounded-retry policy with exponential
// backoff. The same policy drives stage execution and checkpoint uploads so
// retry behavior is configured in one place.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried. Retryable decides whether a
// given error is worth another attempt; a nil predicate retries every error.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	Retryable   func(error) bool
}

// DefaultPolicy returns a policy with three attempts and a doubling backoff
// starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       time.Second,
		Multiplier:  2,
	}
}

// Do runs op until it succeeds, exhausts MaxAttempts, fails with a
// non-retryable error, or the context is cancelled. The last error is
// returned; context cancellation wins over further attempts.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err = op(ctx); err == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		if waitErr := sleep(ctx, p.Backoff(attempt)); waitErr != nil {
			return waitErr
		}
	}

	return err
}

// Backoff returns the delay to apply after the given 1-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier <= 1 {
		return p.Delay
	}

	delay := p.Delay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
