// Package cache is a small thread-safe in-memory TTL cache. It shields
// the database from metrics scrapes and repeated dashboard reads.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	data      any
	expiresAt time.Time
}

// Cache holds values for a fixed TTL.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*entry
	ttl  time.Duration
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		data: make(map[string]*entry),
		ttl:  ttl,
	}
}

// Get returns the cached value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.data[key]
	if !exists || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// Set stores a value under key for the configured TTL.
func (c *Cache) Set(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &entry{
		data:      data,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops one key. Writers call this after a commit so the next
// read sees fresh inventory state.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*entry)
}

// Cleanup removes expired entries. Called periodically by the scheduler.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, key)
		}
	}
}
