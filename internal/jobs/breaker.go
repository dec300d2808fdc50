package jobs

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while a webhook host's breaker rejects calls.
var ErrBreakerOpen = errors.New("jobs: circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets probe calls through.
	BreakerHalfOpen
	// BreakerOpen rejects every call.
	BreakerOpen
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

// CircuitBreaker trips after consecutive failures, rejects calls for a
// cool-down period, then closes again after consecutive successful probes.
// It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker. failureThreshold consecutive failures
// open it; after timeout it half-opens; successThreshold consecutive
// successes close it. Non-positive values take the defaults 5, 2 and 30s.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Allow returns ErrBreakerOpen if the call must be rejected.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.advanceLocked() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.openLocked()
		}
	case BreakerHalfOpen:
		cb.openLocked()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.advanceLocked()
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.successes = 0
}

// advanceLocked half-opens an open breaker whose cool-down has passed.
func (cb *CircuitBreaker) advanceLocked() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.timeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// breakers holds one breaker per webhook host.
type breakers struct {
	mu      sync.Mutex
	byHost  map[string]*CircuitBreaker
	factory func() *CircuitBreaker
}

func newBreakers(factory func() *CircuitBreaker) *breakers {
	return &breakers{byHost: make(map[string]*CircuitBreaker), factory: factory}
}

func (b *breakers) get(host string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.byHost[host]
	if !ok {
		cb = b.factory()
		b.byHost[host] = cb
	}
	return cb
}
