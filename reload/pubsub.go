package reload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fluxgate/fluxgate/backends"
)

const DefaultRetryInterval = 5 * time.Second

// PubSubConfig configures the pub/sub reload subscriber.
type PubSubConfig struct {
	Channel        string
	RetryOnFailure bool
	RetryInterval  time.Duration
}

// PubSub subscribes to the reload channel on the shared store and feeds
// parsed events to the handler. It owns one long-lived goroutine; a lost
// subscription is retried at the configured interval.
type PubSub struct {
	backend backends.Backend
	config  PubSubConfig
	handler Handler
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewPubSub(backend backends.Backend, config PubSubConfig, handler Handler, logger *zap.Logger) *PubSub {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSub{
		backend: backend,
		config:  config,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (p *PubSub) Start(ctx context.Context) error {
	if !p.backend.SupportsPubSub() {
		return backends.ErrPubSubUnsupported
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	go p.run(runCtx)
	return nil
}

func (p *PubSub) run(ctx context.Context) {
	defer close(p.done)

	for {
		sub, err := p.backend.Subscribe(ctx, p.config.Channel)
		if err != nil {
			if !p.config.RetryOnFailure {
				p.logger.Error("reload subscription failed, giving up",
					zap.String("channel", p.config.Channel), zap.Error(err))
				return
			}
			p.logger.Warn("reload subscription failed, retrying",
				zap.String("channel", p.config.Channel),
				zap.Duration("retryIn", p.config.RetryInterval),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.RetryInterval):
				continue
			}
		}

		p.logger.Info("subscribed to reload channel", zap.String("channel", p.config.Channel))
		p.consume(ctx, sub)
		_ = sub.Close()

		select {
		case <-ctx.Done():
			return
		default:
			// subscription ended without cancellation; resubscribe
		}
	}
}

// consume drains one subscription until it closes or the context ends.
func (p *PubSub) consume(ctx context.Context, sub backends.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				p.logger.Warn("reload subscription closed by store",
					zap.String("channel", p.config.Channel))
				return
			}
			event, err := ParseEvent(payload)
			if err != nil {
				p.logger.Warn("dropping malformed reload message",
					zap.String("payload", payload), zap.Error(err))
				continue
			}
			p.handler.OnReload(event)
		}
	}
}

func (p *PubSub) Stop(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		select {
		case <-p.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
