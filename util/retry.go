package util

import (
	"context"
	"math"
	"time"
)

// RetryPolicy bounds retries of a single phase
type RetryPolicy struct {
	Attempts  int // total attempts including the first one
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Backoff returns the exponential delay before attempt n+1 (n starts at 1), capped at max
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(n-1)))
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// Retry calls fn until it succeeds, the error is not retryable, attempts are exhausted or ctx is done.
// onRetry is called before waiting for the next attempt.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, onRetry func(attempt int, err error, delay time.Duration), fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			return err
		}
		delay := Backoff(policy.BaseDelay, policy.MaxDelay, attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
