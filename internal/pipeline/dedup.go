package pipeline

import (
	"sync"
	"time"
)

// deduper drops re-deliveries of the same message within a short window.
// Platform adapters retry on flaky connections; the fingerprint is
// (platform, from, id).
type deduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

func newDeduper(window time.Duration) *deduper {
	return &deduper{seen: make(map[string]time.Time), window: window}
}

// Seen marks the key in-flight and reports whether it was already seen
// within the window. Expired entries are pruned opportunistically.
func (d *deduper) Seen(key string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}
	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.window {
		return true
	}
	d.seen[key] = now
	return false
}
