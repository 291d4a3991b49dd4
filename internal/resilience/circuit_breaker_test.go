package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDependency = errors.New("dependency failed")

func failingCall() error    { return errDependency }
func succeedingCall() error { return nil }

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultSettings("test"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PassesThroughSuccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultSettings("test"))

	err := cb.Execute(succeedingCall)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PassesThroughFailure(t *testing.T) {
	cb := NewCircuitBreaker(DefaultSettings("test"))

	err := cb.Execute(failingCall)
	assert.ErrorIs(t, err, errDependency)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 3, ResetTimeout: time.Minute})

	for range 3 {
		_ = cb.Execute(failingCall)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(succeedingCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 3, ResetTimeout: time.Minute})

	_ = cb.Execute(failingCall)
	_ = cb.Execute(failingCall)
	require.NoError(t, cb.Execute(succeedingCall))

	// The run of failures was broken, two more must not open the circuit.
	_ = cb.Execute(failingCall)
	_ = cb.Execute(failingCall)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})

	_ = cb.Execute(failingCall)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:              "test",
		MaxFailures:       1,
		ResetTimeout:      10 * time.Millisecond,
		HalfOpenSuccesses: 2,
	})

	_ = cb.Execute(failingCall)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(succeedingCall))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(succeedingCall))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(failingCall)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(failingCall)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker(Settings{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		OnStateChange: func(_ string, _, to State) {
			transitions = append(transitions, to)
		},
	})

	_ = cb.Execute(failingCall)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test"})

	defaults := DefaultSettings("test")
	assert.Equal(t, defaults.MaxFailures, cb.settings.MaxFailures)
	assert.Equal(t, defaults.ResetTimeout, cb.settings.ResetTimeout)
	assert.Equal(t, defaults.HalfOpenSuccesses, cb.settings.HalfOpenSuccesses)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
