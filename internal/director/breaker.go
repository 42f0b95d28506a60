package director

import (
	"errors"
	"sync"
	"time"

	"github.com/stwalsh4118/hermes-playout/internal/clock"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed indicates the circuit is closed (normal operation)
	StateClosed CircuitState = iota
	// StateOpen indicates the circuit is open (blocking calls)
	StateOpen
	// StateHalfOpen indicates one trial call is allowed through
	StateHalfOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen indicates the circuit breaker is open and blocking calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards producer start-up for one channel. After failureThreshold
// consecutive failures it rejects calls until resetTimeout has passed on the clock.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	clock            clock.MasterClock

	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given threshold and reset timeout
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, clk clock.MasterClock) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		clock:            clk,
		state:            StateClosed,
	}
}

// Call executes fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.CanAttempt() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailureLocked()
		return err
	}
	cb.recordSuccessLocked()
	return nil
}

// State returns the current state, moving Open to HalfOpen once the timeout elapsed
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// CanAttempt returns true if the circuit breaker allows an attempt
func (cb *CircuitBreaker) CanAttempt() bool {
	return cb.State() != StateOpen
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset resets the circuit breaker to its initial state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == StateOpen && cb.clock.Now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// recordSuccessLocked records a successful operation (must hold lock)
func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.failures = 0
	cb.state = StateClosed
}

// recordFailureLocked records a failed operation (must hold lock)
func (cb *CircuitBreaker) recordFailureLocked() {
	cb.failures++
	cb.lastFailureTime = cb.clock.Now()

	// A failed trial call reopens immediately
	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}
