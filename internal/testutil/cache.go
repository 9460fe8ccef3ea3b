package testutil

import (
	"sync"
	"time"
)

// MapCache is a synchronous cache.Cache with TTL support and an injectable clock.
type MapCache struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]mapEntry
	sets  int
}

type mapEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewMapCache creates an empty MapCache. A nil now uses time.Now.
func NewMapCache(now func() time.Time) *MapCache {
	if now == nil {
		now = time.Now
	}
	return &MapCache{now: now, items: make(map[string]mapEntry)}
}

func (c *MapCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

func (c *MapCache) Set(key string, value interface{}, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := mapEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = e
	c.sets++
	return true
}

func (c *MapCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *MapCache) Wait() {}

func (c *MapCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]mapEntry)
	c.mu.Unlock()
}

func (c *MapCache) Close() {}

// Sets returns the number of Set calls.
func (c *MapCache) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}
