// Package cache provides the bounded in-process TTL caches used on the
// request hot path. Entries are per-instance; staleness is bounded by the
// TTL, the shared store stays authoritative.
package cache

import (
	"sync"
	"time"
)

// Cache is a bounded key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]entry[V]
	maxEntries int
}

// NewTTLCache returns a Cache holding at most maxEntries values.
func NewTTLCache[K comparable, V any](maxEntries int) Cache[K, V] {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &ttlCache[K, V]{
		entries:    make(map[K]entry[V]),
		maxEntries: maxEntries,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops expired entries, or an arbitrary one when none have
// expired yet. Map iteration order makes the victim effectively random;
// the eviction policy is not part of the cache contract.
func (c *ttlCache[K, V]) evictLocked(now time.Time) {
	dropped := false
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			dropped = true
		}
	}
	if dropped {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}
