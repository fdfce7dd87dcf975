package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBurst = 5

	// Idle visitors are pruned so the map cannot grow without bound.
	visitorIdle   = 3 * time.Minute
	pruneHighMark = 1000
)

// visitorLimiter enforces a per-client requests-per-minute budget.
// rpm <= 0 disables limiting entirely.
type visitorLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func newVisitorLimiter(rpm, burst int) *visitorLimiter {
	if burst <= 0 {
		burst = defaultBurst
	}
	return &visitorLimiter{
		rpm:      rpm,
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *visitorLimiter) Enabled() bool { return l.rpm > 0 }

// Allow reports whether a request from key fits the budget right now.
func (l *visitorLimiter) Allow(key string) bool {
	if l.rpm <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Limit(l.rpm)/60, l.burst)}
		l.visitors[key] = v
	}
	v.seen = time.Now()

	if len(l.visitors) > pruneHighMark {
		l.pruneLocked()
	}
	return v.lim.Allow()
}

func (l *visitorLimiter) pruneLocked() {
	cutoff := time.Now().Add(-visitorIdle)
	for k, v := range l.visitors {
		if v.seen.Before(cutoff) {
			delete(l.visitors, k)
		}
	}
}
