// Package resilience wraps the shared-store backend with retry and a
// circuit breaker. Only the consume path is wrapped; in-process logic and
// the pub/sub surface pass through untouched.
package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/fluxgate/fluxgate/backends"
)

// DefaultAttemptTimeout bounds each individual store call.
const DefaultAttemptTimeout = 5 * time.Second

// Config bundles the envelope tuning.
type Config struct {
	Retry          RetryConfig
	Breaker        BreakerConfig
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:          DefaultRetryConfig(),
		Breaker:        DefaultBreakerConfig(),
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Wrapper decorates a backend's TryConsume with the resilience envelope.
// It satisfies backends.Backend so it drops into any consumer unchanged.
type Wrapper struct {
	delegate backends.Backend
	config   Config
	breaker  *Breaker
	logger   *zap.Logger
}

// Wrap builds the envelope around a backend.
func Wrap(delegate backends.Backend, config Config, logger *zap.Logger) *Wrapper {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Wrapper{
		delegate: delegate,
		config:   config,
		logger:   logger,
	}
	if config.Breaker.Enabled {
		w.breaker = NewBreaker(config.Breaker)
	}
	return w
}

func (w *Wrapper) TryConsume(ctx context.Context, baseKey string, bands []backends.BandQuota, permits int64) (backends.BucketState, error) {
	if w.breaker != nil && !w.breaker.Allow() {
		if w.config.Breaker.Fallback == FailClosed {
			return backends.BucketState{}, ErrCircuitOpen
		}
		// FAIL_OPEN: admit without touching the store
		return backends.BucketState{
			Consumed:  true,
			Remaining: math.MaxInt64,
		}, nil
	}

	var state backends.BucketState
	err := retry(ctx, w.config.Retry, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, w.config.AttemptTimeout)
		defer cancel()
		var attemptErr error
		state, attemptErr = w.delegate.TryConsume(attemptCtx, baseKey, bands, permits)
		return attemptErr
	})

	if w.breaker != nil {
		// a rejected consume is a healthy store answer; only call
		// failures feed the breaker
		if err != nil {
			before := w.breaker.CurrentState()
			w.breaker.RecordFailure()
			if after := w.breaker.CurrentState(); after != before {
				w.logger.Warn("circuit breaker state changed",
					zap.String("from", before.String()),
					zap.String("to", after.String()),
					zap.Error(err))
			}
		} else {
			before := w.breaker.CurrentState()
			w.breaker.RecordSuccess()
			if after := w.breaker.CurrentState(); after != before {
				w.logger.Info("circuit breaker state changed",
					zap.String("from", before.String()),
					zap.String("to", after.String()))
			}
		}
	}

	return state, err
}

func (w *Wrapper) Publish(ctx context.Context, channel, message string) error {
	return w.delegate.Publish(ctx, channel, message)
}

func (w *Wrapper) Subscribe(ctx context.Context, channel string) (backends.Subscription, error) {
	return w.delegate.Subscribe(ctx, channel)
}

func (w *Wrapper) SupportsPubSub() bool {
	return w.delegate.SupportsPubSub()
}

func (w *Wrapper) Ping(ctx context.Context) error {
	return w.delegate.Ping(ctx)
}

func (w *Wrapper) Close() error {
	return w.delegate.Close()
}

// BreakerState exposes the current breaker state, mainly for tests and
// health reporting. Returns StateClosed when the breaker is disabled.
func (w *Wrapper) BreakerState() State {
	if w.breaker == nil {
		return StateClosed
	}
	return w.breaker.CurrentState()
}
