// Package resolver maps (rule, request context) pairs to the stable scope
// value that partitions token buckets.
package resolver

import "github.com/fluxgate/fluxgate/rules"

// UnknownScopeValue is recorded when a scope value is absent and no
// fallback applies. It is never empty so bucket keys stay well-formed.
const UnknownScopeValue = "unknown"

// KeyResolver produces the scope value for a rule and request context.
type KeyResolver interface {
	Resolve(rule rules.Rule, reqCtx rules.RequestContext) (string, error)
}

// Default resolves scope values per the standard scope table. When
// FallbackToIP is set (the default), PER_USER and PER_API_KEY fall back to
// the client IP when the identity is absent; note that this collapses
// distinct users behind one NAT gateway into a single bucket.
type Default struct {
	FallbackToIP bool
}

// New returns the default resolver with IP fallback enabled.
func New() Default {
	return Default{FallbackToIP: true}
}

func (d Default) Resolve(rule rules.Rule, reqCtx rules.RequestContext) (string, error) {
	switch rule.Scope {
	case rules.ScopeGlobal:
		return "global", nil
	case rules.ScopePerIP:
		return orUnknown(reqCtx.ClientIP), nil
	case rules.ScopePerUser:
		return d.fallback(reqCtx.UserID, reqCtx.ClientIP), nil
	case rules.ScopePerAPIKey:
		return d.fallback(reqCtx.APIKey, reqCtx.ClientIP), nil
	case rules.ScopeCustom:
		if rule.KeyStrategyID == "" {
			return "", rules.ErrMissingKeyStrategy
		}
		return orUnknown(reqCtx.Attribute(rule.KeyStrategyID)), nil
	default:
		return "", rules.NewInvalidScopeError(rule.Scope)
	}
}

func (d Default) fallback(value, clientIP string) string {
	if value != "" {
		return value
	}
	if d.FallbackToIP && clientIP != "" {
		return clientIP
	}
	return UnknownScopeValue
}

func orUnknown(value string) string {
	if value == "" {
		return UnknownScopeValue
	}
	return value
}
