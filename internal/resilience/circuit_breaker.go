// Package resilience protects the service from cascading failures of its
// external collaborators.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed   State = iota // normal operation, counting failures
	StateOpen                  // failing fast without calling the dependency
	StateHalfOpen              // probing whether the dependency recovered
)

func (s State) String() string {
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

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker.
type Settings struct {
	Name string

	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int64

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenSuccesses is how many consecutive probe successes close the
	// circuit again.
	HalfOpenSuccesses int64

	OnStateChange func(name string, from, to State)
}

// DefaultSettings returns the defaults used for collaborator lookups.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:              name,
		MaxFailures:       5,
		ResetTimeout:      30 * time.Second,
		HalfOpenSuccesses: 3,
	}
}

// CircuitBreaker fails fast once a dependency shows a run of consecutive
// failures, retrying it after a cool-down.
type CircuitBreaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int64
	successes int64
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker with the given settings.
func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	defaults := DefaultSettings(settings.Name)
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = defaults.MaxFailures
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = defaults.ResetTimeout
	}
	if settings.HalfOpenSuccesses <= 0 {
		settings.HalfOpenSuccesses = defaults.HalfOpenSuccesses
	}
	return &CircuitBreaker{settings: settings, state: StateClosed}
}

// Execute runs fn through the breaker, returning ErrCircuitOpen when the
// call is rejected without being attempted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state != StateOpen
}

// refreshLocked moves an expired open circuit to half-open.
func (cb *CircuitBreaker) refreshLocked() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.settings.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.MaxFailures {
			cb.transitionLocked(StateOpen)
		}
	case StateOpen:
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.HalfOpenSuccesses {
			cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	case StateOpen:
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}
