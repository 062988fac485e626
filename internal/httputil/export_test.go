package httputil

import (
	"context"
	"time"
)

// SetBreakerClock replaces the breaker's clock.
func SetBreakerClock(b *Breaker, now func() time.Time) {
	b.now = now
}

// SetExecutorSleep replaces the executor's backoff sleep.
func SetExecutorSleep(e *Executor, sleep func(ctx context.Context, d time.Duration) error) {
	e.sleep = sleep
}
