package provider

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxgate/rules"
)

func testRuleSet(t *testing.T, id string) *rules.RuleSet {
	t.Helper()
	rs, err := rules.NewRuleSet(id, rules.NewRule("r").Band(time.Minute, 10).MustBuild())
	require.NoError(t, err)
	return rs
}

func TestLRUCacheGetPut(t *testing.T) {
	cache := NewLRUCache(time.Minute, 10)
	rs := testRuleSet(t, "a")

	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Put("a", rs)
	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Same(t, rs, got)
	assert.Equal(t, 1, cache.Size())
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	cache := NewLRUCache(30*time.Millisecond, 10)
	cache.Put("a", testRuleSet(t, "a"))

	_, ok := cache.Get("a")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = cache.Get("a")
	assert.False(t, ok, "entries expire ttl after load")
	assert.Equal(t, 0, cache.Size(), "expired entries are dropped on read")
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewLRUCache(time.Minute, 3)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("rs-%d", i)
		cache.Put(id, testRuleSet(t, id))
	}

	// touch rs-0 so rs-1 becomes the eviction candidate
	_, ok := cache.Get("rs-0")
	require.True(t, ok)

	cache.Put("rs-3", testRuleSet(t, "rs-3"))
	assert.Equal(t, 3, cache.Size())

	_, ok = cache.Get("rs-1")
	assert.False(t, ok, "least recently used entry was evicted")
	_, ok = cache.Get("rs-0")
	assert.True(t, ok)
}

func TestLRUCacheInvalidate(t *testing.T) {
	cache := NewLRUCache(time.Minute, 10)
	cache.Put("a", testRuleSet(t, "a"))
	cache.Put("b", testRuleSet(t, "b"))

	cache.Invalidate("a")
	_, ok := cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("b")
	assert.True(t, ok)

	cache.Invalidate("missing")

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Size())
	_, ok = cache.Get("b")
	assert.False(t, ok)
}

func TestLRUCachePutRefreshes(t *testing.T) {
	cache := NewLRUCache(time.Minute, 10)
	first := testRuleSet(t, "a")
	second := testRuleSet(t, "a")

	cache.Put("a", first)
	cache.Put("a", second)

	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, cache.Size())
}
