// Package limiter turns a rule-set and request context into a bucket
// consume against the shared store and folds the per-band outcome into a
// verdict.
package limiter

import (
	"context"
	"strings"

	"github.com/fluxgate/fluxgate/backends"
	"github.com/fluxgate/fluxgate/resolver"
	"github.com/fluxgate/fluxgate/rules"
)

// KeyPrefix namespaces every bucket key in the shared store.
const KeyPrefix = "fluxgate"

// RateLimiter checks one request against one rule-set.
type RateLimiter interface {
	Check(ctx context.Context, ruleSet *rules.RuleSet, reqCtx rules.RequestContext, permits int64) (rules.Verdict, error)
}

type Limiter struct {
	backend  backends.Backend
	resolver resolver.KeyResolver
}

func New(backend backends.Backend, keyResolver resolver.KeyResolver) *Limiter {
	return &Limiter{backend: backend, resolver: keyResolver}
}

// Check selects the first enabled rule that matches the context, resolves
// the bucket key, and consumes from every band of that rule atomically.
// With no matching rule the request is allowed without consuming.
func (l *Limiter) Check(ctx context.Context, ruleSet *rules.RuleSet, reqCtx rules.RequestContext, permits int64) (rules.Verdict, error) {
	if permits < 1 {
		return rules.Verdict{}, rules.NewInvalidPermitsError(permits)
	}

	rule := selectRule(ruleSet, reqCtx)
	if rule == nil {
		return rules.AllowedWithoutRule(), nil
	}

	scopeValue, err := l.resolver.Resolve(*rule, reqCtx)
	if err != nil {
		return rules.Verdict{}, err
	}

	baseKey := BucketKey(ruleSet.ID, rule.ID, scopeValue)
	bands := make([]backends.BandQuota, len(rule.Bands))
	for i, band := range rule.Bands {
		bands[i] = backends.BandQuota{
			Label:    band.BucketLabel(),
			Capacity: band.Capacity,
			Window:   band.Window,
		}
	}

	state, err := l.backend.TryConsume(ctx, baseKey, bands, permits)
	if err != nil {
		return rules.Verdict{}, err
	}

	return rules.Verdict{
		Allowed:     state.Consumed,
		MatchedRule: rule,
		Key:         baseKey,
		Remaining:   state.Remaining,
		WaitNanos:   state.WaitNanos,
		ResetMillis: state.ResetMillis,
	}, nil
}

// BucketKey builds the deterministic bucket base key. The band label is
// appended by the backend, one suffix per band.
func BucketKey(ruleSetID, ruleID, scopeValue string) string {
	return KeyPrefix + ":" + ruleSetID + ":" + ruleID + ":" + scopeValue
}

// selectRule returns the first enabled rule whose constraints match the
// context. Rules constrain matching only through the optional "method"
// and "pathPrefix" attributes; path routing beyond that is the filter's
// concern.
func selectRule(ruleSet *rules.RuleSet, reqCtx rules.RequestContext) *rules.Rule {
	for i := range ruleSet.Rules {
		rule := &ruleSet.Rules[i]
		if !rule.Enabled {
			continue
		}
		if matchesContext(rule, reqCtx) {
			return rule
		}
	}
	return nil
}

func matchesContext(rule *rules.Rule, reqCtx rules.RequestContext) bool {
	if method := rule.Attribute("method"); method != "" && !strings.EqualFold(method, reqCtx.Method) {
		return false
	}
	if prefix := rule.Attribute("pathPrefix"); prefix != "" && !strings.HasPrefix(reqCtx.Endpoint, prefix) {
		return false
	}
	return true
}
