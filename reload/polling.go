package reload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollingInterval     = 30 * time.Second
	DefaultPollingInitialDelay = 10 * time.Second
)

// PollingConfig configures the periodic full-reload poller.
type PollingConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// Polling periodically emits a full-reload event, flushing the cache so
// stale rules never outlive the polling interval by much. It serves as
// the fallback when the store has no pub/sub surface and as defense in
// depth alongside it.
type Polling struct {
	config  PollingConfig
	handler Handler
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewPolling(config PollingConfig, handler Handler, logger *zap.Logger) *Polling {
	if config.Interval <= 0 {
		config.Interval = DefaultPollingInterval
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = DefaultPollingInitialDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Polling{
		config:  config,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (p *Polling) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	go p.run(runCtx)
	return nil
}

func (p *Polling) run(ctx context.Context) {
	defer close(p.done)

	select {
	case <-ctx.Done():
		return
	case <-time.After(p.config.InitialDelay):
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.emit()
		}
	}
}

func (p *Polling) emit() {
	p.logger.Debug("polling reload: flushing rule cache")
	p.handler.OnReload(NewEvent("", SourcePolling))
}

func (p *Polling) Stop(ctx context.Context) error {
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
