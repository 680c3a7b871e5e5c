package crawler

import (
	"context"
	"errors"
	"time"
)

// FixedRetryPolicy retries with a constant delay between attempts. The source
// site throttles bursts but recovers quickly, so a flat wait outperforms
// exponential backoff here.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a policy with the given total attempt count and
// inter-attempt delay.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts, delay: delay}
}

// ShouldRetry decides whether another attempt is allowed. Context
// cancellation is never retried.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// RetryPolicy decides whether and when a failed operation runs again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// DoWithRetry runs op under the policy and returns the last error once
// attempts are exhausted. Both listing-page and detail-page fetches go
// through this helper so their terminal-failure semantics stay identical.
func DoWithRetry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		lastErr error
	)
	for attempt := 1; ; attempt++ {
		result, lastErr = op(ctx)
		if lastErr == nil {
			return result, nil
		}
		if !policy.ShouldRetry(lastErr, attempt) {
			var zero T
			return zero, lastErr
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(policy.Backoff(attempt)):
		}
	}
}
