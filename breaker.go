package restengine

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name for logging and metrics labels.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a half-open
	// probe is allowed.
	RecoveryTimeout time.Duration
}

// CircuitBreaker is a three-state guard that stops sending requests to a
// failing dependency for a cooldown period, then cautiously probes recovery.
// Only consecutive failures count: any success while closed resets the
// counter. All transitions happen under one lock; the breaker is safe for
// concurrent use and never holds its lock across network I/O.
type CircuitBreaker struct {
	mu            sync.Mutex
	config        CircuitBreakerConfig
	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

// NewCircuitBreaker creates a circuit breaker, applying defaults for zero
// config values.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. While open it rejects until
// the recovery timeout elapses, then admits exactly one half-open probe;
// further requests are rejected until that probe's outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful outcome. A half-open probe success
// closes the circuit; any success while closed resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		cb.probeInFlight = false
	case StateOpen:
		// Stale result from a request admitted before the circuit opened.
	}
}

// RecordFailure records a failed outcome. Reaching the failure threshold
// while closed opens the circuit; a half-open probe failure re-opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.probeInFlight = false
	case StateOpen:
		cb.openedAt = cb.now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to closed with a clean failure counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}
