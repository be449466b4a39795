// Package cache provides an in-memory LRU cache with TTL for caching HTTP
// responses on hot read endpoints such as project listings.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// record is the payload stored on each recency-list element.
type record struct {
	key     string
	body    []byte
	staleAt time.Time
}

// LRUCache is a thread-safe byte cache with a fixed capacity and a per-entry
// TTL. Entries are kept on a recency list; when the cache is full the least
// recently used entry is dropped. A read past an entry's TTL counts as a
// miss and removes the entry.
type LRUCache struct {
	mu       sync.Mutex
	index    map[string]*list.Element
	recency  *list.List
	capacity int
	ttl      time.Duration
}

// NewLRUCache returns a cache holding at most maxSize entries, each valid
// for ttl. Out-of-range arguments are clamped to a usable minimum.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &LRUCache{
		index:    make(map[string]*list.Element, maxSize),
		recency:  list.New(),
		capacity: maxSize,
		ttl:      ttl,
	}
}

// Get returns the cached body for key and marks the entry as recently used.
// A missing or stale key yields (nil, false); stale entries are removed on
// the spot.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, false
	}

	rec := el.Value.(*record)
	if time.Now().After(rec.staleAt) {
		c.drop(el)
		return nil, false
	}

	c.recency.MoveToFront(el)
	return rec.body, true
}

// Set stores body under key, resetting its TTL. When the cache is full the
// least recently used entry makes room.
func (c *LRUCache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	staleAt := time.Now().Add(c.ttl)

	if el, ok := c.index[key]; ok {
		rec := el.Value.(*record)
		rec.body = body
		rec.staleAt = staleAt
		c.recency.MoveToFront(el)
		return
	}

	if c.recency.Len() >= c.capacity {
		if tail := c.recency.Back(); tail != nil {
			c.drop(tail)
		}
	}

	c.index[key] = c.recency.PushFront(&record{
		key:     key,
		body:    body,
		staleAt: staleAt,
	})
}

// Invalidate removes key from the cache if present.
func (c *LRUCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.drop(el)
	}
}

// InvalidateAll empties the cache.
func (c *LRUCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element, c.capacity)
	c.recency.Init()
}

// Size reports the current entry count. Stale entries that no Get has
// touched yet are still counted.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

// drop unlinks an element from both the recency list and the index.
// Caller holds c.mu.
func (c *LRUCache) drop(el *list.Element) {
	c.recency.Remove(el)
	delete(c.index, el.Value.(*record).key)
}
