package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxgate/backends"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:        true,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetryRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return backends.NewRetryableError(errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	transient := backends.NewRetryableError(errors.New("still down"))
	err := retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, transient)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	permanent := errors.New("ERR bad command")
	err := retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "non-retryable errors propagate immediately")
}

func TestRetryDisabled(t *testing.T) {
	calls := 0
	config := fastRetryConfig()
	config.Enabled = false
	err := retry(context.Background(), config, func(ctx context.Context) error {
		calls++
		return backends.NewRetryableError(errors.New("transient"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	config := fastRetryConfig()
	config.InitialBackoff = time.Hour // would hang without cancellation

	done := make(chan error, 1)
	go func() {
		done <- retry(ctx, config, func(ctx context.Context) error {
			calls++
			return backends.NewRetryableError(errors.New("transient"))
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}
