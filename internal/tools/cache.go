package tools

import (
	"sync"
	"time"
)

const (
	defaultCacheTTL        = 10 * time.Minute
	defaultCacheMaxEntries = 100
)

// webCache is a small bounded TTL cache for search and fetch results.
type webCache struct {
	mu      sync.Mutex
	entries map[string]webCacheEntry
	max     int
	ttl     time.Duration
}

type webCacheEntry struct {
	value   string
	expires time.Time
}

func newWebCache(max int, ttl time.Duration) *webCache {
	return &webCache{
		entries: make(map[string]webCacheEntry),
		max:     max,
		ttl:     ttl,
	}
}

func (c *webCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *webCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		// Evict anything expired first, then an arbitrary entry.
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < c.max {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[key] = webCacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}
