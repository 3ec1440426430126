package catalog

import (
	"sync"
	"time"
)

// Cache is a thread-safe TTL cache for the scraped model directory.
type Cache struct {
	mu          sync.RWMutex
	entries     []ModelEntry
	lastUpdated time.Time
	ttl         time.Duration
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the cached entries if present and not expired. The returned
// slice is a copy.
func (c *Cache) Get() ([]ModelEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return nil, false
	}
	if time.Since(c.lastUpdated) > c.ttl {
		return nil, false
	}

	out := make([]ModelEntry, len(c.entries))
	copy(out, c.entries)
	return out, true
}

// Set replaces the cached entries.
func (c *Cache) Set(entries []ModelEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make([]ModelEntry, len(entries))
	copy(c.entries, entries)
	c.lastUpdated = time.Now()
}

// Clear drops the cached entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	c.lastUpdated = time.Time{}
}

// LastUpdated returns when the cache was last filled.
func (c *Cache) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// Size returns how many entries are cached, expired or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
