package backends

import (
	"context"
	"time"
)

// BandQuota describes one rate band of a consume call: up to Capacity
// permits per Window, stored under the band's bucket label.
type BandQuota struct {
	Label    string
	Capacity int64
	Window   time.Duration
}

// BucketState is the transient result of one consume attempt.
// WaitNanos is zero whenever Consumed is true.
type BucketState struct {
	Consumed    bool
	Remaining   int64
	WaitNanos   int64
	ResetMillis int64
}

// Backend is the shared store the token buckets live in. TryConsume must
// be atomic end to end: concurrent callers on the same key observe a
// linearizable order of successful consumptions, and a rejected call
// leaves stored state untouched.
type Backend interface {
	// TryConsume atomically attempts to take permits from every band of
	// the bucket rooted at baseKey. Band state is kept per band under
	// baseKey + ":" + label. Either all bands are debited or none are.
	TryConsume(ctx context.Context, baseKey string, bands []BandQuota, permits int64) (BucketState, error)

	// Publish sends a message on a pub/sub channel. Backends without a
	// pub/sub surface return ErrPubSubUnsupported.
	Publish(ctx context.Context, channel, message string) error

	// Subscribe opens a subscription on a pub/sub channel. Backends
	// without a pub/sub surface return ErrPubSubUnsupported.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// SupportsPubSub reports whether Publish/Subscribe are usable; the
	// reload layer uses it to pick between pub/sub and polling.
	SupportsPubSub() bool

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// Subscription is a live pub/sub subscription. Messages is closed when
// the subscription ends, whether by Close or by a connection failure.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// BucketTTL computes the expiry applied to bucket state: the band window
// plus a 10% margin for clock skew, capped at 24 hours. Never below one
// second so sub-second windows still persist across calls.
func BucketTTL(window time.Duration) time.Duration {
	secs := (window.Milliseconds()*11 + 9999) / 10000
	if secs < 1 {
		secs = 1
	}
	if secs > 86400 {
		secs = 86400
	}
	return time.Duration(secs) * time.Second
}
