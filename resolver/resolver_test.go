package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxgate/rules"
)

func buildRule(t *testing.T, scope rules.Scope, keyStrategy string) rules.Rule {
	t.Helper()
	builder := rules.NewRule("r").Scope(scope).Band(time.Minute, 10)
	if keyStrategy != "" {
		builder.KeyStrategy(keyStrategy)
	}
	rule, err := builder.Build()
	require.NoError(t, err)
	return rule
}

func TestDefaultResolve(t *testing.T) {
	reqCtx := rules.RequestContext{
		ClientIP:   "203.0.113.7",
		UserID:     "user-1",
		APIKey:     "key-1",
		Attributes: map[string]string{"tenant": "acme"},
	}

	tests := []struct {
		name  string
		scope rules.Scope
		key   string
		ctx   rules.RequestContext
		want  string
	}{
		{"global", rules.ScopeGlobal, "", reqCtx, "global"},
		{"per ip", rules.ScopePerIP, "", reqCtx, "203.0.113.7"},
		{"per ip missing", rules.ScopePerIP, "", rules.RequestContext{}, UnknownScopeValue},
		{"per user", rules.ScopePerUser, "", reqCtx, "user-1"},
		{"per api key", rules.ScopePerAPIKey, "", reqCtx, "key-1"},
		{"custom", rules.ScopeCustom, "tenant", reqCtx, "acme"},
		{"custom missing attribute", rules.ScopeCustom, "other", reqCtx, UnknownScopeValue},
	}
	resolver := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(buildRule(t, tt.scope, tt.key), tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveIdentityFallback(t *testing.T) {
	anonymous := rules.RequestContext{ClientIP: "203.0.113.7"}
	userRule := buildRule(t, rules.ScopePerUser, "")
	keyRule := buildRule(t, rules.ScopePerAPIKey, "")

	t.Run("falls back to ip", func(t *testing.T) {
		resolver := New()
		got, err := resolver.Resolve(userRule, anonymous)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.7", got)

		got, err = resolver.Resolve(keyRule, anonymous)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.7", got)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		resolver := Default{FallbackToIP: false}
		got, err := resolver.Resolve(userRule, anonymous)
		require.NoError(t, err)
		assert.Equal(t, UnknownScopeValue, got)
	})

	t.Run("no ip either", func(t *testing.T) {
		resolver := New()
		got, err := resolver.Resolve(userRule, rules.RequestContext{})
		require.NoError(t, err)
		assert.Equal(t, UnknownScopeValue, got)
	})
}

func TestResolveCustomWithoutKeyStrategy(t *testing.T) {
	rule := rules.Rule{ID: "r", Scope: rules.ScopeCustom}
	_, err := New().Resolve(rule, rules.RequestContext{})
	assert.ErrorIs(t, err, rules.ErrMissingKeyStrategy)
}
