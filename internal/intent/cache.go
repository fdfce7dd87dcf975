package intent

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheMaxSize = 1000

	// Decisions below this confidence are not worth replaying.
	cacheMinConfidence = 0.80
)

// fingerprint keys a classification decision by the normalized message and
// the enabled tool set, so a settings change invalidates naturally.
func fingerprint(content string, enabledTools []string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(content), " "))
	ids := append([]string(nil), enabledTools...)
	sort.Strings(ids)
	return norm + "|" + strings.Join(ids, ",")
}

type cacheEntry struct {
	decision Decision
	at       time.Time
}

// decisionCache is a bounded TTL cache of classification decisions.
type decisionCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	max     int
}

func newDecisionCache() *decisionCache {
	return &decisionCache{
		entries: make(map[string]cacheEntry),
		ttl:     cacheTTL,
		max:     cacheMaxSize,
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	if time.Since(e.at) > c.ttl {
		delete(c.entries, key)
		return Decision{}, false
	}
	return e.decision, true
}

func (c *decisionCache) Put(key string, d Decision) {
	if d.Confidence < cacheMinConfidence {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{decision: d, at: time.Now()}
}

func (c *decisionCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.at.Before(oldestAt) {
			oldestKey, oldestAt = k, e.at
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
