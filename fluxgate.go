// Package fluxgate is a distributed rate limiter: rule-based multi-band
// token buckets on a shared store, with cached rule delivery, hot reload,
// and a resilience envelope around every store call.
package fluxgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fluxgate/fluxgate/limiter"
	"github.com/fluxgate/fluxgate/metrics"
	"github.com/fluxgate/fluxgate/provider"
	"github.com/fluxgate/fluxgate/reload"
	"github.com/fluxgate/fluxgate/resilience"
	"github.com/fluxgate/fluxgate/resolver"
	"github.com/fluxgate/fluxgate/rules"
)

// ErrMissingRuleSet is returned by checks under the THROW strategy when
// the rule-set id resolves to nothing.
var ErrMissingRuleSet = errors.New("rule set not found")

// ErrNoRuleSetID is returned when a check names no rule-set and no
// default is configured.
var ErrNoRuleSetID = errors.New("no rule set id given and no default configured")

// Engine is the assembled rate limiter. Construct with New, share across
// goroutines, and Close when done.
type Engine struct {
	config   Config
	backend  *resilience.Wrapper
	provider provider.RuleSetProvider
	handler  reload.Handler
	limiter  *limiter.Limiter
	strategy reload.Strategy
	pub      *reload.Publisher
	metrics  metrics.Recorder
	logger   *zap.Logger

	closeProvider func()
}

// New wires the engine: the backend goes behind the resilience envelope,
// the provider behind the rule cache, and the reload strategy is started
// before the first check can run.
func New(opts ...Option) (*Engine, error) {
	settings := &engineSettings{
		config:  DefaultConfig(),
		metrics: metrics.Nop{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(settings); err != nil {
			return nil, err
		}
	}
	if settings.backend == nil {
		return nil, fmt.Errorf("a backend is required: use WithRedisBackend, WithMemoryBackend, or WithBackend")
	}
	if settings.provider == nil {
		return nil, fmt.Errorf("a rule-set provider is required: use WithPostgresProvider, WithRuleSets, or WithProvider")
	}

	config := settings.config
	wrapped := resilience.Wrap(settings.backend, config.resilienceConfig(), settings.logger)

	keyResolver := settings.resolver
	if keyResolver == nil {
		keyResolver = resolver.Default{FallbackToIP: config.scopeFallbackToIP()}
	}

	mode := reload.Select(config.Reload.Strategy, settings.backend)
	if mode == "" {
		mode = reload.Select(reload.ModeAuto, settings.backend)
	}

	engine := &Engine{
		config:        config,
		backend:       wrapped,
		provider:      settings.provider,
		limiter:       limiter.New(wrapped, keyResolver),
		strategy:      reload.NewNoop(),
		pub:           reload.NewPublisher(settings.backend, config.Reload.PubSub.Channel),
		metrics:       settings.metrics,
		logger:        settings.logger,
		closeProvider: settings.closeProvider,
	}

	// without a reload path the cache would serve stale rules forever
	if config.cacheEnabled() && mode != reload.ModeNone {
		cache := provider.NewLRUCache(config.Cache.TTL.Std(), config.Cache.MaxSize)
		caching := provider.NewCaching(settings.provider, cache, settings.logger)
		engine.provider = caching
		engine.handler = caching

		switch mode {
		case reload.ModePubSub:
			engine.strategy = reload.NewPubSub(settings.backend, reload.PubSubConfig{
				Channel:        config.Reload.PubSub.Channel,
				RetryOnFailure: config.pubsubRetryOnFailure(),
				RetryInterval:  config.Reload.PubSub.RetryInterval.Std(),
			}, caching, settings.logger)
		case reload.ModePolling:
			engine.strategy = reload.NewPolling(reload.PollingConfig{
				Interval:     config.Reload.Polling.Interval.Std(),
				InitialDelay: config.Reload.Polling.InitialDelay.Std(),
			}, caching, settings.logger)
		}
	}

	if err := engine.strategy.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start reload strategy: %w", err)
	}
	if engine.handler != nil {
		engine.handler.OnReload(reload.NewEvent("", reload.SourceStartup))
	}

	engine.logger.Info("rate limit engine started",
		zap.String("reloadMode", string(mode)),
		zap.Bool("cache", engine.handler != nil))
	return engine, nil
}

// Check consumes one permit against the named rule-set.
func (e *Engine) Check(ctx context.Context, ruleSetID string, reqCtx rules.RequestContext) (rules.Verdict, error) {
	return e.CheckN(ctx, ruleSetID, reqCtx, 1)
}

// CheckN consumes permits against the named rule-set. An empty ruleSetID
// falls back to the configured default. A missing rule-set either errors
// or admits, per OnMissingRuleSet.
func (e *Engine) CheckN(ctx context.Context, ruleSetID string, reqCtx rules.RequestContext, permits int64) (rules.Verdict, error) {
	start := time.Now()
	if ruleSetID == "" {
		ruleSetID = e.config.RateLimit.DefaultRuleSetID
	}
	if ruleSetID == "" {
		return rules.Verdict{}, ErrNoRuleSetID
	}

	ruleSet, err := e.provider.FindByID(ctx, ruleSetID)
	if err != nil {
		if errors.Is(err, provider.ErrRuleSetNotFound) {
			if e.config.RateLimit.OnMissingRuleSet == MissingAllow {
				verdict := rules.AllowedWithoutRule()
				e.metrics.RecordDecision(ruleSetID, "", true, verdict.Remaining, time.Since(start))
				return verdict, nil
			}
			return rules.Verdict{}, fmt.Errorf("%w: %q", ErrMissingRuleSet, ruleSetID)
		}
		return rules.Verdict{}, err
	}

	verdict, err := e.limiter.Check(ctx, ruleSet, reqCtx, permits)
	if err != nil {
		if !isCallerError(err) {
			e.metrics.RecordStoreFailure(ruleSetID)
			e.logger.Error("rate limit check failed against store",
				zap.String("ruleSetId", ruleSetID), zap.Error(err))
		}
		return rules.Verdict{}, err
	}

	ruleID := ""
	if verdict.MatchedRule != nil {
		ruleID = verdict.MatchedRule.ID
	}
	e.metrics.RecordDecision(ruleSetID, ruleID, verdict.Allowed, verdict.Remaining, time.Since(start))
	return verdict, nil
}

// isCallerError reports whether a check error is the caller's fault
// rather than a store failure.
func isCallerError(err error) bool {
	return errors.Is(err, rules.ErrInvalidPermits) ||
		errors.Is(err, rules.ErrMissingKeyStrategy) ||
		errors.Is(err, rules.ErrInvalidRule)
}

// Invalidate drops one rule-set from the local cache and, when the store
// supports pub/sub, tells every other instance to do the same.
func (e *Engine) Invalidate(ctx context.Context, ruleSetID string) error {
	event := reload.NewEvent(ruleSetID, reload.SourceManual)
	if e.handler != nil {
		e.handler.OnReload(event)
	}
	if e.backend.SupportsPubSub() {
		return e.pub.Publish(ctx, event)
	}
	return nil
}

// InvalidateAll drops every cached rule-set, cluster-wide when possible.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	return e.Invalidate(ctx, "")
}

// Ping verifies the shared store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.backend.Ping(ctx)
}

// BreakerState reports the circuit breaker state for health endpoints.
func (e *Engine) BreakerState() resilience.State {
	return e.backend.BreakerState()
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Close stops the reload strategy and releases the backend and provider.
// The context bounds how long Close waits for background goroutines.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if err := e.strategy.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := e.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.closeProvider != nil {
		e.closeProvider()
	}
	return firstErr
}
