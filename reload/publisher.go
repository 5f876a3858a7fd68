package reload

import (
	"context"

	"github.com/fluxgate/fluxgate/backends"
)

// Publisher emits reload events on the shared store's pub/sub channel so
// every subscribed instance invalidates together. The control plane and
// the admin surface publish through this after writing rule changes.
type Publisher struct {
	backend backends.Backend
	channel string
}

func NewPublisher(backend backends.Backend, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{backend: backend, channel: channel}
}

// Publish sends the event. The local handler is not short-circuited; the
// event comes back through the subscription like on any other instance.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	return p.backend.Publish(ctx, p.channel, payload)
}
