package completion

import (
	"sync"

	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
)

const defaultCacheSize = 256

type cacheKey struct {
	start      int
	generation uint64
	rel        int
}

type cacheEntry struct {
	span syntaxctx.Interval
	ctx  *Context
}

// Cache memoizes completion contexts per script item. Entries are keyed by
// the item's start and generation and dropped when the syntax context
// reports a change over their item.
type Cache struct {
	mu      sync.Mutex
	size    int
	entries map[cacheKey]cacheEntry
	unsub   func()
}

// NewCache returns a cache subscribed to sctx. size bounds the number of
// entries; zero picks a default.
func NewCache(sctx *syntaxctx.Context, size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c := &Cache{size: size, entries: make(map[cacheKey]cacheEntry)}
	c.unsub = sctx.Subscribe(c.invalidate)
	return c
}

func (c *Cache) get(item syntaxctx.ScriptItem, rel int) (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey{item.Start, item.Generation, rel}]
	return e.ctx, ok
}

func (c *Cache) put(item syntaxctx.ScriptItem, rel int, ctx *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.size {
		clear(c.entries)
	}
	c.entries[cacheKey{item.Start, item.Generation, rel}] = cacheEntry{span: item.Interval(), ctx: ctx}
}

// invalidate drops the entries whose item touches changed.
func (c *Cache) invalidate(changed syntaxctx.Interval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.span.Touches(changed) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached contexts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close unsubscribes the cache from its syntax context.
func (c *Cache) Close() {
	c.unsub()
}
