package reload

import (
	"context"

	"github.com/fluxgate/fluxgate/backends"
)

// Mode selects how rule changes reach this instance.
type Mode string

const (
	// ModeAuto picks pub/sub when the backend exposes it, else polling.
	ModeAuto    Mode = "AUTO"
	ModePubSub  Mode = "PUBSUB"
	ModePolling Mode = "POLLING"
	// ModeNone runs no reload strategy; callers should disable caching.
	ModeNone Mode = "NONE"
)

// Strategy produces invalidation events for a Handler. Start launches the
// background task; Stop signals it and joins within the context deadline.
type Strategy interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Select resolves a mode against a backend, returning the effective mode.
func Select(mode Mode, backend backends.Backend) Mode {
	if mode != ModeAuto {
		return mode
	}
	if backend.SupportsPubSub() {
		return ModePubSub
	}
	return ModePolling
}

// noop is the NONE strategy.
type noop struct{}

func NewNoop() Strategy { return noop{} }

func (noop) Start(context.Context) error { return nil }
func (noop) Stop(context.Context) error  { return nil }
