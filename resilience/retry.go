package resilience

import (
	"context"
	"time"

	"github.com/fluxgate/fluxgate/backends"
)

// RetryConfig holds retry tuning for store calls.
type RetryConfig struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the standard retry tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:        true,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     2 * time.Second,
	}
}

// retry invokes fn up to MaxAttempts times, sleeping an exponentially
// growing backoff between attempts. Only errors backends.IsRetryable
// accepts are retried; anything else propagates immediately, as does a
// cancelled context.
func retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	attempts := config.MaxAttempts
	if !config.Enabled || attempts < 1 {
		attempts = 1
	}

	backoff := config.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !backends.IsRetryable(lastErr) || attempt == attempts {
			return lastErr
		}
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
	return lastErr
}

// sleep waits for the backoff, aborting when the caller's context is
// cancelled so a dropped request never keeps retrying.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
