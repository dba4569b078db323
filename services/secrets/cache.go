package secrets

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry represents a single resolved secret with its insertion time
type cacheEntry struct {
	uri        string
	value      string
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// Cache is an in-memory LRU cache with TTL for resolved secret values,
// keyed by secret reference URI. The lock only ever covers map access.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewCache creates a Cache holding at most maxSize values for ttl each.
// A non-positive ttl disables caching.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for uri if present and not expired.
func (c *Cache) Get(uri string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[uri]
	if !exists || c.isExpired(entry) {
		c.misses++
		if exists {
			c.removeEntry(uri)
		}
		return "", false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.value, true
}

// Set stores value for uri, evicting the least recently used entry when full.
func (c *Cache) Set(uri, value string) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[uri]; exists {
		entry.value = value
		entry.insertedAt = c.now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		uri:        uri,
		value:      value,
		insertedAt: c.now(),
	}
	entry.element = c.lruList.PushFront(uri)
	c.entries[uri] = entry
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *Cache) isExpired(e *cacheEntry) bool {
	return c.now().Sub(e.insertedAt) >= c.ttl
}

// removeEntry must be called with the lock held
func (c *Cache) removeEntry(uri string) {
	if entry, exists := c.entries[uri]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, uri)
	}
}

// evictLRU must be called with the lock held
func (c *Cache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	uri := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, uri)
}
