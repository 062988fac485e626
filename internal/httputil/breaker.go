package httputil

import (
	"errors"
	"sync"
	"time"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

// BreakerState is the state of one upstream's breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker. A FailureThreshold of zero or less
// disables it.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed calls that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before a probe is let through
	Cooldown time.Duration
	// OnStateChange is called after every transition
	OnStateChange func(from, to BreakerState)
}

// ErrBreakerOpen is returned by Allow while the circuit is open.
var ErrBreakerOpen = errors.New("circuit open")

// Breaker stops calling an upstream after repeated failures. A nil Breaker
// allows everything.
type Breaker struct {
	mu sync.Mutex

	config   BreakerConfig
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker returns nil when the config disables breaking.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		return nil
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breaker{config: config, now: time.Now}
}

// Allow reports whether a call may go out.
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return ErrBreakerOpen
		}
		b.transitionTo(BreakerHalfOpen)
	}
	return nil
}

// RecordSuccess records a call that reached the upstream and was not a 5xx.
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.probes++
		if b.probes >= b.config.SuccessThreshold {
			b.transitionTo(BreakerClosed)
		}
	}
}

// RecordFailure records a transport failure or a 5xx answer.
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
	}
}

// State returns the current state. A nil Breaker is always closed.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transitionTo(next BreakerState) {
	prev := b.state
	b.state = next

	switch next {
	case BreakerClosed:
		b.failures = 0
		b.probes = 0
	case BreakerOpen:
		b.openedAt = b.now()
		b.probes = 0
	case BreakerHalfOpen:
		b.probes = 0
	}

	if b.config.OnStateChange != nil && prev != next {
		go b.config.OnStateChange(prev, next)
	}
}
