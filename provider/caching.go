package provider

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fluxgate/fluxgate/reload"
	"github.com/fluxgate/fluxgate/rules"
)

// Caching wraps a provider with the in-process cache. Lookups are
// read-through with write-on-miss; misses for the same id are collapsed
// into one delegate call, so after an invalidation the backing store sees
// exactly one read no matter how many requests race. Negative results are
// never cached.
type Caching struct {
	delegate RuleSetProvider
	cache    RuleCache
	group    singleflight.Group
	logger   *zap.Logger
}

func NewCaching(delegate RuleSetProvider, cache RuleCache, logger *zap.Logger) *Caching {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caching{
		delegate: delegate,
		cache:    cache,
		logger:   logger,
	}
}

func (c *Caching) FindByID(ctx context.Context, ruleSetID string) (*rules.RuleSet, error) {
	if rs, ok := c.cache.Get(ruleSetID); ok {
		return rs, nil
	}

	value, err, _ := c.group.Do(ruleSetID, func() (any, error) {
		// a concurrent winner may have filled the cache already
		if rs, ok := c.cache.Get(ruleSetID); ok {
			return rs, nil
		}
		rs, err := c.delegate.FindByID(ctx, ruleSetID)
		if err != nil {
			return nil, err
		}
		c.cache.Put(ruleSetID, rs)
		return rs, nil
	})
	if err != nil {
		if errors.Is(err, ErrRuleSetNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("rule-set load failed: %w", err)
	}
	return value.(*rules.RuleSet), nil
}

// OnReload implements reload.Handler: drop the named rule-set, or
// everything for a full-reload event.
func (c *Caching) OnReload(event reload.Event) {
	if event.FullReload() {
		c.logger.Debug("invalidating all cached rule-sets",
			zap.String("source", string(event.Source)))
		c.cache.InvalidateAll()
		return
	}
	c.logger.Debug("invalidating cached rule-set",
		zap.String("ruleSetId", event.RuleSetID),
		zap.String("source", string(event.Source)))
	c.cache.Invalidate(event.RuleSetID)
}
