package resilience

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned under FAIL_CLOSED while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// FallbackStrategy decides what an open circuit does with callers.
type FallbackStrategy string

const (
	// FailOpen lets requests through without consulting the store,
	// trading enforcement for availability while the store is down.
	FailOpen FallbackStrategy = "FAIL_OPEN"
	// FailClosed rejects calls with ErrCircuitOpen.
	FailClosed FallbackStrategy = "FAIL_CLOSED"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	}
	return "UNKNOWN"
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	Enabled                  bool
	FailureThreshold         int32
	WaitDurationInOpenState  time.Duration
	PermittedCallsInHalfOpen int32
	Fallback                 FallbackStrategy
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:                  true,
		FailureThreshold:         5,
		WaitDurationInOpenState:  30 * time.Second,
		PermittedCallsInHalfOpen: 3,
		Fallback:                 FailOpen,
	}
}

// Breaker implements the three-state circuit breaker on atomics; every
// transition is a compare-and-set, so no coarse lock sits on the request
// path.
type Breaker struct {
	config    BreakerConfig
	state     atomic.Int32
	failures  atomic.Int32 // consecutive failures while CLOSED
	successes atomic.Int32 // consecutive successes while HALF_OPEN
	openedAt  atomic.Int64 // nanoseconds since Unix epoch
}

func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{config: config}
}

// Allow reports whether a call may proceed. In OPEN it transitions to
// HALF_OPEN once the wait duration has passed; exactly one caller wins
// the CAS, the rest keep seeing OPEN until probes succeed.
func (b *Breaker) Allow() bool {
	switch State(b.state.Load()) {
	case StateOpen:
		openedAt := b.openedAt.Load()
		if time.Since(time.Unix(0, openedAt)) >= b.config.WaitDurationInOpenState {
			if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				b.successes.Store(0)
				return true
			}
			// another caller transitioned; fall through to current state
			return State(b.state.Load()) != StateOpen
		}
		return false
	default:
		return true
	}
}

// RecordSuccess feeds a successful store call into the state machine.
func (b *Breaker) RecordSuccess() {
	switch State(b.state.Load()) {
	case StateHalfOpen:
		if b.successes.Add(1) >= b.config.PermittedCallsInHalfOpen {
			if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				b.failures.Store(0)
			}
		}
	case StateClosed:
		b.failures.Store(0)
	}
}

// RecordFailure feeds a failed store call into the state machine.
func (b *Breaker) RecordFailure() {
	switch State(b.state.Load()) {
	case StateHalfOpen:
		b.trip(StateHalfOpen)
	case StateClosed:
		if b.failures.Add(1) >= b.config.FailureThreshold {
			b.trip(StateClosed)
		}
	}
}

func (b *Breaker) trip(from State) {
	if b.state.CompareAndSwap(int32(from), int32(StateOpen)) {
		b.openedAt.Store(time.Now().UnixNano())
		b.failures.Store(0)
		b.successes.Store(0)
	}
}

// CurrentState returns the breaker state for logging and metrics.
func (b *Breaker) CurrentState() State {
	return State(b.state.Load())
}
