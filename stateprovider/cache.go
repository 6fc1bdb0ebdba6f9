package stateprovider

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize is the per-method LRU capacity named in the spec.
const defaultCacheSize = 4096

// cacheEntry tags a cached value with the block it was produced at, so a
// reorg invalidation can evict every entry at or after the affected block
// without needing a second index.
type cacheEntry struct {
	block uint64
	value any
}

// methodCache is a bounded, per-method LRU keyed by a caller-supplied
// composite string (typically method+args+block). TTL is conceptually "one
// block": entries are invalidated explicitly by evictFrom rather than by a
// wall-clock timer, since block boundaries are the only clock that matters.
type methodCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, cacheEntry]
}

func newMethodCache() *methodCache {
	c, _ := lru.New[string, cacheEntry](defaultCacheSize)
	return &methodCache{inner: c}
}

func (c *methodCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	return entry.value, true
}

func (c *methodCache) put(key string, block uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, cacheEntry{block: block, value: value})
}

// evictFrom removes every cached entry produced at or after block, called
// when the caller observes that block has been reorged out.
func (c *methodCache) evictFrom(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.inner.Keys() {
		entry, ok := c.inner.Peek(key)
		if ok && entry.block >= block {
			c.inner.Remove(key)
		}
	}
}
