package httputil

import (
	"context"
	"time"
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy configures the executor's retry loop. Every request is tried at
// most MaxRetries+1 times; a negative MaxRetries means no attempt is made.
type RetryPolicy struct {
	Timeout          time.Duration
	MaxRetries       int
	Backoff          time.Duration
	RetryStatusCodes []int
}

// DefaultRetryPolicy returns the gateway's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:    3 * time.Second,
		MaxRetries: 2,
		Backoff:    200 * time.Millisecond,
	}
}

// Attempts returns the number of tries allowed, never negative.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries + 1
}

// BackoffFor returns the sleep after the zero-based attempt: Backoff * 2^attempt.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if p.Backoff <= 0 || attempt < 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.Backoff * time.Duration(1<<uint(attempt))
}

// RetriesStatus reports whether status is in the retryable set.
func (p RetryPolicy) RetriesStatus(status int) bool {
	for _, code := range p.RetryStatusCodes {
		if code == status {
			return true
		}
	}
	return false
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
