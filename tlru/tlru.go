// Package tlru implements a bounded, time-aware LRU cache: entries are
// evicted once they exceed a configured age since creation or since last
// access, and/or once the cache exceeds a configured item count. The
// recency order is tracked by key rather than by pointer, so the whole
// structure lives in a single map and needs no unsafe cross-links.
package tlru

import "time"

// Cache is a bounded, time-aware LRU cache keyed by K. It is not safe for
// concurrent use; callers that need concurrent access should guard it with
// their own mutex or confine it to a single owner goroutine, as the
// datastore package does.
type Cache[K comparable, V any] struct {
	entries map[K]*node[K, V]
	newest  *K

	maxItems     *int
	maxCreateAge *time.Duration
	maxIdleAge   *time.Duration
}

type node[K comparable, V any] struct {
	value V

	newer, older K

	createTime time.Time
	accessTime time.Time
}

// New creates an empty cache. With no options the cache is unbounded in
// both size and age; entries are only ever removed explicitly.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Cache[K, V]{
		entries:      make(map[K]*node[K, V]),
		maxItems:     cfg.maxItems,
		maxCreateAge: cfg.maxCreateAge,
		maxIdleAge:   cfg.maxIdleAge,
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

// Insert sets create_time = access_time = now for key. If key already
// exists, its value is replaced and it is promoted to newest; otherwise it
// is linked in as the newest entry. An eviction pass runs afterward.
func (c *Cache[K, V]) Insert(key K, value V) {
	now := time.Now()

	if n, exists := c.entries[key]; exists {
		c.spliceOut(key)
		n.value = value
		n.createTime = now
		n.accessTime = now
		c.linkAsNewest(key, n)
	} else {
		c.linkAsNewest(key, &node[K, V]{value: value, createTime: now, accessTime: now})
	}

	c.gc(false)
}

// Get returns the value for key, promoting it to newest. If the entry is
// expired it is removed and Get reports a miss, matching a not-found.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	n, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	now := time.Now()
	if c.isExpired(n, now) {
		c.Remove(key)
		return zero, false
	}

	c.spliceOut(key)
	n.accessTime = now
	c.linkAsNewest(key, n)

	return n.value, true
}

// Peek returns the value for key without promoting it or checking
// expiry, useful for read-only introspection (e.g. metrics).
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	var zero V
	n, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	return n.value, true
}

// Remove unlinks key from the ring and deletes it, if present.
func (c *Cache[K, V]) Remove(key K) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	c.spliceOut(key)
	delete(c.entries, key)
}

// Clear drops all entries.
func (c *Cache[K, V]) Clear() {
	c.entries = make(map[K]*node[K, V])
	c.newest = nil
}

// Newest returns the key of the most recently inserted-or-accessed entry,
// and false if the cache is empty.
func (c *Cache[K, V]) Newest() (K, bool) {
	var zero K
	if c.newest == nil {
		return zero, false
	}
	return *c.newest, true
}

// GC walks the ring from oldest toward newest, dropping entries that are
// expired or that exceed max_items. With full set to false (the default
// after every Insert), the walk stops at the first entry that is kept;
// with full set to true every entry is re-examined.
func (c *Cache[K, V]) GC(full bool) {
	c.gc(full)
}

func (c *Cache[K, V]) gc(full bool) {
	if c.newest == nil {
		return
	}

	newestKey := *c.newest
	now := time.Now()
	current := c.entries[newestKey].newer

	for {
		n, ok := c.entries[current]
		if !ok {
			return
		}
		next := n.newer
		atNewest := current == newestKey

		overMax := c.maxItems != nil && len(c.entries) > *c.maxItems
		if c.isExpired(n, now) || overMax {
			c.Remove(current)
			if atNewest {
				return
			}
		} else {
			if atNewest || !full {
				return
			}
		}

		current = next
	}
}

func (c *Cache[K, V]) isExpired(n *node[K, V], now time.Time) bool {
	if c.maxCreateAge != nil && now.Sub(n.createTime) > *c.maxCreateAge {
		return true
	}
	if c.maxIdleAge != nil && now.Sub(n.accessTime) > *c.maxIdleAge {
		return true
	}
	return false
}

// spliceOut removes key from the ring's links without deleting it from the
// map, so its value and timestamps can be reused by a subsequent
// linkAsNewest (promotion) without losing create_time on a plain get.
func (c *Cache[K, V]) spliceOut(key K) {
	n := c.entries[key]

	if c.newest != nil && *c.newest == key {
		if n.older == key {
			c.newest = nil
		} else {
			older := n.older
			c.newest = &older
		}
	}

	newer := c.entries[n.newer]
	newer.older = n.older
	older := c.entries[n.older]
	older.newer = n.newer
}

func (c *Cache[K, V]) linkAsNewest(key K, n *node[K, V]) {
	if c.newest != nil {
		curNewestKey := *c.newest
		curNewest := c.entries[curNewestKey]
		curOldestKey := curNewest.newer

		curNewest.newer = key
		curOldest := c.entries[curOldestKey]
		curOldest.older = key

		n.newer = curOldestKey
		n.older = curNewestKey
	} else {
		n.newer = key
		n.older = key
	}

	c.entries[key] = n
	newest := key
	c.newest = &newest
}
