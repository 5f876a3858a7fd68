package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxgate/backends"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New()
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func oneBand(capacity int64, window time.Duration) []backends.BandQuota {
	return []backends.BandQuota{{Label: "default", Capacity: capacity, Window: window}}
}

func TestTryConsumeExhaustsCapacity(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := oneBand(100, time.Hour)

	for i := int64(1); i <= 100; i++ {
		state, err := b.TryConsume(ctx, "bucket", bands, 1)
		require.NoError(t, err)
		assert.True(t, state.Consumed, "consume %d should be allowed", i)
		assert.Equal(t, int64(100-i), state.Remaining)
	}

	state, err := b.TryConsume(ctx, "bucket", bands, 1)
	require.NoError(t, err)
	assert.False(t, state.Consumed, "101st consume must be rejected")
	assert.Equal(t, int64(0), state.Remaining)
	assert.Positive(t, state.WaitNanos)
	assert.LessOrEqual(t, state.WaitNanos, time.Hour.Nanoseconds()/100,
		"one token refills within window/capacity")
}

func TestTryConsumeKeysAreIsolated(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := oneBand(1, time.Hour)

	first, err := b.TryConsume(ctx, "k:ip-a", bands, 1)
	require.NoError(t, err)
	require.True(t, first.Consumed)

	rejected, err := b.TryConsume(ctx, "k:ip-a", bands, 1)
	require.NoError(t, err)
	assert.False(t, rejected.Consumed)

	other, err := b.TryConsume(ctx, "k:ip-b", bands, 1)
	require.NoError(t, err)
	assert.True(t, other.Consumed, "a drained bucket must not affect another key")
}

func TestTryConsumeMultiBandAllOrNothing(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := []backends.BandQuota{
		{Label: "burst", Capacity: 2, Window: time.Hour},
		{Label: "sustained", Capacity: 100, Window: 24 * time.Hour},
	}

	for i := 0; i < 2; i++ {
		state, err := b.TryConsume(ctx, "multi", bands, 1)
		require.NoError(t, err)
		require.True(t, state.Consumed)
	}

	// burst band is empty; the sustained band must not be debited
	rejected, err := b.TryConsume(ctx, "multi", bands, 1)
	require.NoError(t, err)
	require.False(t, rejected.Consumed)
	assert.Equal(t, int64(0), rejected.Remaining, "remaining reports the tightest band")

	// the sustained band alone still has its tokens
	state, err := b.TryConsume(ctx, "multi", bands[1:], 1)
	require.NoError(t, err)
	assert.True(t, state.Consumed)
	assert.Equal(t, int64(97), state.Remaining, "only the two granted consumes were debited")
}

func TestTryConsumeRejectionIsReadOnly(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := oneBand(1, 200*time.Millisecond)

	granted, err := b.TryConsume(ctx, "ro", bands, 1)
	require.NoError(t, err)
	require.True(t, granted.Consumed)

	// hammer the drained bucket; rejections must not reset the refill
	// clock, so the token still arrives on the original schedule
	for i := 0; i < 5; i++ {
		state, err := b.TryConsume(ctx, "ro", bands, 1)
		require.NoError(t, err)
		require.False(t, state.Consumed)
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	state, err := b.TryConsume(ctx, "ro", bands, 1)
	require.NoError(t, err)
	assert.True(t, state.Consumed,
		"bucket refilled a full window after the granted consume")
}

func TestTryConsumeRefillsOverTime(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := oneBand(10, 100*time.Millisecond)

	for i := 0; i < 10; i++ {
		state, err := b.TryConsume(ctx, "refill", bands, 1)
		require.NoError(t, err)
		require.True(t, state.Consumed)
	}
	state, err := b.TryConsume(ctx, "refill", bands, 1)
	require.NoError(t, err)
	require.False(t, state.Consumed)

	// a full window refills the bucket to capacity
	time.Sleep(110 * time.Millisecond)
	state, err = b.TryConsume(ctx, "refill", bands, 10)
	require.NoError(t, err)
	assert.True(t, state.Consumed)
	assert.Equal(t, int64(0), state.Remaining)
}

func TestTryConsumePermitsBatch(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := oneBand(10, time.Hour)

	state, err := b.TryConsume(ctx, "batch", bands, 7)
	require.NoError(t, err)
	require.True(t, state.Consumed)
	assert.Equal(t, int64(3), state.Remaining)

	state, err = b.TryConsume(ctx, "batch", bands, 4)
	require.NoError(t, err)
	assert.False(t, state.Consumed, "4 permits cannot come out of 3 tokens")
	assert.Equal(t, int64(3), state.Remaining)

	state, err = b.TryConsume(ctx, "batch", bands, 3)
	require.NoError(t, err)
	assert.True(t, state.Consumed)
}

func TestTryConsumeValidation(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bands := oneBand(10, time.Hour)

	_, err := b.TryConsume(ctx, "", bands, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = b.TryConsume(ctx, "k", nil, 1)
	assert.ErrorIs(t, err, ErrNoBands)

	_, err = b.TryConsume(ctx, "k", bands, 0)
	assert.Error(t, err)

	_, err = b.TryConsume(ctx, "k", bands, -5)
	assert.Error(t, err)
}

func TestTryConsumeConcurrentNeverOversells(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	const capacity = 50
	bands := oneBand(capacity, time.Hour)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < capacity+20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := b.TryConsume(ctx, "contended", bands, 1)
			if err == nil && state.Consumed {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), granted.Load(),
		"exactly capacity consumes may succeed under contention")
}

func TestPubSubDelivery(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "events", "hello"))
	require.NoError(t, b.Publish(ctx, "other", "ignored"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %q from another channel", msg)
	default:
	}
}

func TestPubSubSubscriptionClose(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "closing twice is safe")

	_, open := <-sub.Messages()
	assert.False(t, open, "channel closes with the subscription")

	// publishing to a channel with no subscribers is a no-op
	assert.NoError(t, b.Publish(ctx, "events", "late"))
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	b := New()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "double close is safe")

	_, open := <-sub.Messages()
	assert.False(t, open)

	assert.ErrorIs(t, b.Publish(ctx, "events", "x"), ErrBackendClosed)
	_, err = b.Subscribe(ctx, "events")
	assert.ErrorIs(t, err, ErrBackendClosed)
}
