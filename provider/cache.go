package provider

import (
	"container/list"
	"sync"
	"time"

	"github.com/fluxgate/fluxgate/rules"
)

// RuleCache bounds the in-process rule-set cache.
type RuleCache interface {
	Get(ruleSetID string) (*rules.RuleSet, bool)
	Put(ruleSetID string, ruleSet *rules.RuleSet)
	Invalidate(ruleSetID string)
	InvalidateAll()
	Size() int
}

type cacheEntry struct {
	id       string
	ruleSet  *rules.RuleSet
	loadedAt time.Time
}

// LRUCache is a mutex-guarded TTL + LRU cache. Entries expire TTL after
// load regardless of access, so a stale rule-set is refreshed even when
// no invalidation event ever arrives.
type LRUCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheMaxSize = 1000
)

func NewLRUCache(ttl time.Duration, maxSize int) *LRUCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	return &LRUCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *LRUCache) Get(ruleSetID string) (*rules.RuleSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[ruleSetID]
	if !ok {
		return nil, false
	}
	entry := element.Value.(*cacheEntry)
	if time.Since(entry.loadedAt) > c.ttl {
		c.removeLocked(element)
		return nil, false
	}
	c.order.MoveToFront(element)
	return entry.ruleSet, true
}

func (c *LRUCache) Put(ruleSetID string, ruleSet *rules.RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[ruleSetID]; ok {
		entry := element.Value.(*cacheEntry)
		entry.ruleSet = ruleSet
		entry.loadedAt = time.Now()
		c.order.MoveToFront(element)
		return
	}

	element := c.order.PushFront(&cacheEntry{
		id:       ruleSetID,
		ruleSet:  ruleSet,
		loadedAt: time.Now(),
	})
	c.entries[ruleSetID] = element

	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

func (c *LRUCache) Invalidate(ruleSetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.entries[ruleSetID]; ok {
		c.removeLocked(element)
	}
}

func (c *LRUCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache) removeLocked(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	c.order.Remove(element)
	delete(c.entries, entry.id)
}
