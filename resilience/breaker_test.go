package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:                  true,
		FailureThreshold:         3,
		WaitDurationInOpenState:  30 * time.Millisecond,
		PermittedCallsInHalfOpen: 2,
		Fallback:                 FailOpen,
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(testBreakerConfig())
	require.Equal(t, StateClosed, b.CurrentState())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(testBreakerConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.CurrentState(),
		"only consecutive failures trip the breaker")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(testBreakerConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.CurrentState())
	require.False(t, b.Allow())

	time.Sleep(40 * time.Millisecond)
	assert.True(t, b.Allow(), "wait elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.CurrentState())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.CurrentState())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.CurrentState(),
		"closes after the permitted probe count succeeds")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(testBreakerConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(40 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState(),
		"one probe failure sends the breaker straight back to open")
	assert.False(t, b.Allow())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "OPEN", StateOpen.String())
}
