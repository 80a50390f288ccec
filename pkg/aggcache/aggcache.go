// Package aggcache caches computed report aggregates in process memory.
//
// Entries expire after a fixed TTL and are evicted lazily on read, so a
// stale aggregate is never returned but also never costs a background
// goroutine. Any write through the data layer invalidates the whole
// cache; aggregates span many records and cross-cut entity types, so
// per-key invalidation would buy little and risk serving stale numbers.
package aggcache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock abstracts the time source so tests can advance it manually.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DefaultTTL is how long an aggregate stays valid when no TTL is
// configured.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL-bounded map of aggregate results. Safe for concurrent
// use.
type Cache struct {
	ttl   time.Duration
	clock Clock

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock substitutes the time source. Test hook.
func WithClock(c Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// New creates a cache with the given TTL; ttl <= 0 selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		clock:   systemClock{},
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, or false when the key is absent
// or its entry has expired. Expired entries are removed on the spot.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a concurrent Set may have
		// refreshed the entry.
		if cur, still := c.entries[key]; still && !c.clock.Now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key with a fresh TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// InvalidateAll drops every entry. Called after any write through the
// data layer.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len reports the number of live and not-yet-evicted entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Key builds a stable cache key from the operation name, the date range,
// and any boolean variants of the computation. Identical inputs always
// produce identical keys.
func Key(op string, from, to time.Time, flags ...bool) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteByte(':')
	b.WriteString(from.UTC().Format(time.RFC3339))
	b.WriteByte(':')
	b.WriteString(to.UTC().Format(time.RFC3339))
	for _, f := range flags {
		b.WriteString(fmt.Sprintf(":%t", f))
	}
	return b.String()
}
