package registry

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache is a small concurrency-safe cache with per-entry expiry.
// Negative results are not cached: a device registered after a miss
// must resolve on the next lookup.
type ttlCache[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[K]cacheEntry[V]
	now     func() time.Time
}

func newTTLCache[K comparable, V any](ttl time.Duration) *ttlCache[K, V] {
	return &ttlCache[K, V]{
		ttl:     ttl,
		entries: make(map[K]cacheEntry[V]),
		now:     time.Now,
	}
}

func (c *ttlCache[K, V]) get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[K, V]) put(key K, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
