// Package cache provides the process-local bounded caches used by the
// ingestion path: a capacity/TTL-bounded latest-value cache and a
// broadcast rate limiter. Both are performance aids, never a source of
// truth, so entries may be evicted or expire at any time.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultCapacity        = 1000
	defaultTTL             = time.Hour
	defaultCleanupInterval = 5 * time.Minute
)

type entry[V any] struct {
	value V
	setAt time.Time
	seq   uint64 // insertion sequence, ties the entry to its order slot
}

// slot is one insertion-order record. A slot whose sequence no longer
// matches the live entry for its key is stale (the key expired or was
// deleted and later re-inserted) and must never evict anything.
type slot struct {
	key string
	seq uint64
}

// Cache is a thread-safe key/value cache bounded by capacity and age.
// When an insert pushes the size past capacity the oldest-inserted entry
// is evicted (insertion order, not LRU). Expired entries are removed
// lazily: on Get/Has when touched, and in a sweep that runs at most once
// per cleanup interval, piggybacked on Set.
type Cache[V any] struct {
	mu sync.Mutex

	capacity        int
	ttl             time.Duration
	cleanupInterval time.Duration

	entries   map[string]*entry[V]
	order     []slot // insertion order; stale slots are skipped on eviction
	nextSeq   uint64
	lastSweep time.Time

	now func() time.Time
}

// New creates a Cache with the given capacity and TTL. Non-positive
// arguments fall back to defaults (1000 entries, 1 hour).
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache[V]{
		capacity:        capacity,
		ttl:             ttl,
		cleanupInterval: defaultCleanupInterval,
		entries:         make(map[string]*entry[V]),
		now:             time.Now,
	}
	c.lastSweep = c.now()
	return c
}

// Set inserts or overwrites a value, refreshing its age for TTL purposes.
// Overwriting does not move the key to the back of the eviction order.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.setAt = now
	} else {
		c.nextSeq++
		c.entries[key] = &entry[V]{value: value, setAt: now, seq: c.nextSeq}
		c.order = append(c.order, slot{key: key, seq: c.nextSeq})
	}

	if len(c.entries) > c.capacity {
		c.evictOldest()
	}

	if now.Sub(c.lastSweep) >= c.cleanupInterval {
		c.sweep(now)
		c.lastSweep = now
	}
}

// Get returns the cached value, or def when the key is absent or
// expired. An expired entry is deleted on the way out.
func (c *Cache[V]) Get(key string, def V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return def
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		return def
	}
	return e.value
}

// Lookup is Get with an explicit presence flag.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Has reports whether a live entry exists for key, deleting it if expired.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Lookup(key)
	return ok
}

// Delete removes a key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries currently held, including entries
// that have expired but not yet been swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the live keys in unspecified order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !c.expired(e, now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Clear drops all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.order = nil
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.setAt) > c.ttl
}

// evictOldest removes the oldest-inserted entry still present. Slots
// whose sequence no longer matches the live entry are stale leftovers
// of deleted or expired keys and are dropped without evicting: the key
// may have been re-inserted since, making it one of the newest entries.
func (c *Cache[V]) evictOldest() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest.key]; ok && e.seq == oldest.seq {
			delete(c.entries, oldest.key)
			slog.Debug("[Cache] Evicted oldest entry", "key", oldest.key)
			return
		}
	}
}

// sweep drops expired entries and compacts stale order slots so the
// order slice stays bounded under expiry churn.
func (c *Cache[V]) sweep(now time.Time) {
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}

	live := c.order[:0]
	for _, s := range c.order {
		if e, ok := c.entries[s.key]; ok && e.seq == s.seq {
			live = append(live, s)
		}
	}
	c.order = live

	if removed > 0 {
		slog.Debug("[Cache] Swept expired entries", "removed", removed)
	}
}
