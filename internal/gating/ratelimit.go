package gating

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts per-sender messages in Redis with atomic
// INCR + EXPIRE. The expiry is only set when the key is created, so the
// window is anchored at the first message.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryLimiter is the standalone-mode counter, used when no Redis address
// is configured. Windows are anchored at the first increment, matching the
// Redis behavior.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memWindow
}

type memWindow struct {
	count   int64
	expires time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*memWindow)}
}

func (l *MemoryLimiter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || now.After(w.expires) {
		w = &memWindow{expires: now.Add(window)}
		l.windows[key] = w
	}
	w.count++
	return w.count, nil
}
