package fabric

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Allow when the breaker is
// tripped and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("fabric: circuit breaker open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig controls when a CircuitBreaker trips and how long it
// stays open. There is no analogue for this in the reference corpus; the
// shape (failure count over a sliding window, fixed cooldown, single
// half-open probe) follows the standard circuit-breaker pattern rather
// than any one pack example.
type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	OpenDuration     time.Duration
}

// CircuitBreaker guards calls to a single downstream (one message name,
// in the Message Fabric's case). It trips after FailureThreshold
// failures inside Window, stays open for OpenDuration, then allows a
// single half-open probe before closing again.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu           sync.Mutex
	state        breakerState
	failures     []time.Time
	openedAt     time.Time
	halfOpenBusy bool
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: stateClosed}
}

// Allow reports whether a call may proceed right now, transitioning the
// breaker from open to half-open once OpenDuration has elapsed.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(b.openedAt) >= b.cfg.OpenDuration {
			b.state = stateHalfOpen
			b.halfOpenBusy = true
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		if b.halfOpenBusy {
			return ErrCircuitOpen
		}
		b.halfOpenBusy = true
		return nil
	}
	return nil
}

// RecordSuccess closes the breaker (from any state) and clears the
// failure window.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = nil
	b.halfOpenBusy = false
}

// RecordFailure records a failed call. In half-open state a single
// failed probe re-opens the breaker immediately. In closed state the
// breaker trips once FailureThreshold failures have occurred inside
// Window.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.state == stateHalfOpen {
		b.trip(now)
		return
	}

	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.trip(now)
	}
}

func (b *CircuitBreaker) trip(at time.Time) {
	b.state = stateOpen
	b.openedAt = at
	b.failures = nil
	b.halfOpenBusy = false
}

// State reports the breaker's current state as a string, for metrics.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
