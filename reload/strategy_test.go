package reload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxgate/backends"
	"github.com/fluxgate/fluxgate/backends/memory"
)

// collector gathers events behind a mutex so test goroutines can poll.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) OnReload(event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if events := c.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(c.snapshot()))
	return nil
}

func TestSelect(t *testing.T) {
	backend := memory.New()
	t.Cleanup(func() { _ = backend.Close() })

	assert.Equal(t, ModePubSub, Select(ModeAuto, backend), "auto picks pub/sub when available")
	assert.Equal(t, ModePolling, Select(ModePolling, backend))
	assert.Equal(t, ModeNone, Select(ModeNone, backend))
}

func TestPollingEmitsFullReloads(t *testing.T) {
	handler := &collector{}
	polling := NewPolling(PollingConfig{
		Interval:     20 * time.Millisecond,
		InitialDelay: time.Nanosecond,
	}, handler, nil)

	require.NoError(t, polling.Start(context.Background()))
	defer polling.Stop(context.Background())

	events := handler.waitFor(t, 3, 2*time.Second)
	for _, event := range events {
		assert.True(t, event.FullReload())
		assert.Equal(t, SourcePolling, event.Source)
	}
}

func TestPollingStopJoins(t *testing.T) {
	handler := &collector{}
	polling := NewPolling(PollingConfig{Interval: 10 * time.Millisecond, InitialDelay: time.Nanosecond}, handler, nil)
	require.NoError(t, polling.Start(context.Background()))

	handler.waitFor(t, 1, 2*time.Second)
	require.NoError(t, polling.Stop(context.Background()))

	count := len(handler.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(handler.snapshot()), "no emissions after stop")
	require.NoError(t, polling.Stop(context.Background()), "stop is idempotent")
}

func TestPubSubDeliversEvents(t *testing.T) {
	backend := memory.New()
	t.Cleanup(func() { _ = backend.Close() })
	handler := &collector{}

	pubsub := NewPubSub(backend, PubSubConfig{}, handler, nil)
	require.NoError(t, pubsub.Start(context.Background()))
	defer pubsub.Stop(context.Background())

	// the subscription is established asynchronously
	publisher := NewPublisher(backend, "")
	event := NewEvent("api", SourceManual)
	require.Eventually(t, func() bool {
		if err := publisher.Publish(context.Background(), event); err != nil {
			return false
		}
		return len(handler.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	got := handler.snapshot()[0]
	assert.Equal(t, "api", got.RuleSetID)
	assert.Equal(t, SourceManual, got.Source)
}

func TestPubSubDropsMalformedPayloads(t *testing.T) {
	backend := memory.New()
	t.Cleanup(func() { _ = backend.Close() })
	handler := &collector{}

	pubsub := NewPubSub(backend, PubSubConfig{}, handler, nil)
	require.NoError(t, pubsub.Start(context.Background()))
	defer pubsub.Stop(context.Background())

	require.Eventually(t, func() bool {
		if err := backend.Publish(context.Background(), DefaultChannel, "{garbage"); err != nil {
			return false
		}
		event := NewEvent("good", SourcePubSub)
		if err := NewPublisher(backend, "").Publish(context.Background(), event); err != nil {
			return false
		}
		return len(handler.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	for _, event := range handler.snapshot() {
		assert.Equal(t, "good", event.RuleSetID, "malformed payloads never reach the handler")
	}
}

func TestPubSubRequiresCapableBackend(t *testing.T) {
	pubsub := NewPubSub(noPubSubBackend{}, PubSubConfig{}, &collector{}, nil)
	err := pubsub.Start(context.Background())
	assert.ErrorIs(t, err, backends.ErrPubSubUnsupported)
}

type noPubSubBackend struct{ backends.Backend }

func (noPubSubBackend) SupportsPubSub() bool { return false }
