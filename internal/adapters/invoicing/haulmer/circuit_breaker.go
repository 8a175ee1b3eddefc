package haulmer

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// reaching the provider.
var ErrCircuitOpen = errors.New("haulmer circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker protects the emission endpoint from hammering a failing
// provider. It opens after maxFailures consecutive failures, waits out the
// cooldown, then lets a single probe through in half-open state. A probe
// success closes the breaker, a probe failure re-opens it.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration

	mu           sync.Mutex
	state        breakerState
	failureCount int
	openedAt     time.Time
}

func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       breakerClosed,
	}
}

// Execute runs fn under breaker protection. The provider's own error is
// returned unchanged so callers can distinguish it from ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case breakerOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = breakerHalfOpen
	case breakerHalfOpen:
		// Only one probe at a time while half-open.
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		if cb.state == breakerHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = breakerOpen
			cb.openedAt = time.Now()
		}
		return err
	}

	cb.state = breakerClosed
	cb.failureCount = 0
	return nil
}
