// Package gating runs the pre-AI message filters.
//
// Five ordered gates decide whether a message is worth waking the router
// for: echo, group allowlist, mention, rate limit, content. A failure
// inside a gate implementation never blocks the message (fail-open); only
// an explicit block does.
package gating

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// Decision is the outcome of a gate chain run.
type Decision struct {
	Pass   bool
	Reason string // "gated:<gate>:<why>" when blocked
}

func pass() Decision { return Decision{Pass: true} }

func block(gate, why string) Decision {
	return Decision{Reason: fmt.Sprintf("gated:%s:%s", gate, why)}
}

// RateLimiter counts messages per sender over a rolling window. Incr
// returns the counter value after incrementing; the window starts on the
// first increment.
type RateLimiter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

const configCacheTTL = 60 * time.Second

type cachedConfig struct {
	cfg      *store.GatingConfig
	fetched  time.Time
}

// Gater evaluates the gate chain for inbound messages.
type Gater struct {
	store   store.GatingStore
	limiter RateLimiter
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedConfig
}

func New(gs store.GatingStore, limiter RateLimiter, log *slog.Logger) *Gater {
	if log == nil {
		log = slog.Default()
	}
	return &Gater{
		store:   gs,
		limiter: limiter,
		log:     log,
		cache:   make(map[string]cachedConfig),
	}
}

// Check runs the five gates in order and returns the first block, if any.
func (g *Gater) Check(ctx context.Context, userID string, msg *bus.Message) Decision {
	cfg, err := g.config(ctx, userID)
	if err != nil {
		// No config means no gates: fail open.
		g.log.Warn("gating.config_unavailable", "user", userID, "error", err)
		return pass()
	}

	if cfg.EchoEnabled {
		if d := g.echoGate(cfg, msg); !d.Pass {
			return d
		}
	}
	if cfg.AllowlistEnabled {
		if d := g.allowlistGate(ctx, msg); !d.Pass {
			return d
		}
	}
	if cfg.MentionEnabled {
		if d := g.mentionGate(cfg, msg); !d.Pass {
			return d
		}
	}
	if cfg.RateLimitEnabled && g.limiter != nil {
		if d := g.rateLimitGate(ctx, cfg, msg); !d.Pass {
			return d
		}
	}
	if cfg.ContentEnabled {
		if d := g.contentGate(cfg, msg); !d.Pass {
			return d
		}
	}
	return pass()
}

func (g *Gater) config(ctx context.Context, userID string) (*store.GatingConfig, error) {
	g.mu.RLock()
	c, ok := g.cache[userID]
	g.mu.RUnlock()
	if ok && time.Since(c.fetched) < configCacheTTL {
		return c.cfg, nil
	}

	cfg, err := g.store.GetConfig(ctx, userID)
	if err != nil {
		if ok {
			// Stale beats nothing.
			return c.cfg, nil
		}
		return nil, err
	}
	g.mu.Lock()
	g.cache[userID] = cachedConfig{cfg: cfg, fetched: time.Now()}
	g.mu.Unlock()
	return cfg, nil
}

// InvalidateConfig drops the cached config so the next Check refetches.
func (g *Gater) InvalidateConfig(userID string) {
	g.mu.Lock()
	delete(g.cache, userID)
	g.mu.Unlock()
}

func (g *Gater) echoGate(cfg *store.GatingConfig, msg *bus.Message) Decision {
	if msg.FromMe {
		return block("echo", "fromMe")
	}
	for _, id := range cfg.BotIdentifiers {
		if id != "" && strings.Contains(msg.From, id) {
			return block("echo", "bot_identifier")
		}
	}
	return pass()
}

func (g *Gater) allowlistGate(ctx context.Context, msg *bus.Message) Decision {
	if !msg.IsGroup {
		return pass()
	}
	ok, err := g.store.AllowlistContains(ctx, msg.GroupID, msg.Platform)
	if err != nil {
		g.log.Warn("gating.allowlist_error", "group", msg.GroupID, "error", err)
		return pass()
	}
	if !ok {
		return block("allowlist", "group_not_allowed")
	}
	return pass()
}

func (g *Gater) mentionGate(cfg *store.GatingConfig, msg *bus.Message) Decision {
	if !msg.IsGroup {
		return pass()
	}
	if msg.ReplyToBot {
		return pass()
	}
	content := strings.ToLower(msg.Content)
	for _, name := range cfg.BotNames {
		if name == "" {
			continue
		}
		n := strings.ToLower(name)
		if strings.Contains(content, "@"+n) || strings.Contains(content, n) {
			return pass()
		}
	}
	return block("mention", "not_mentioned")
}

func (g *Gater) rateLimitGate(ctx context.Context, cfg *store.GatingConfig, msg *bus.Message) Decision {
	window := time.Duration(cfg.RateLimitWindow) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	key := "superbrain:rate:" + msg.Platform + ":" + msg.From
	n, err := g.limiter.Incr(ctx, key, window)
	if err != nil {
		g.log.Warn("gating.rate_limit_error", "key", key, "error", err)
		return pass()
	}
	if cfg.RateLimitMax > 0 && n > int64(cfg.RateLimitMax) {
		return block("rate_limit", "too_many_messages")
	}
	return pass()
}

func (g *Gater) contentGate(cfg *store.GatingConfig, msg *bus.Message) Decision {
	text := strings.TrimSpace(msg.Content)
	if msg.ContentType == bus.ContentText || msg.ContentType == "" {
		if text == "" {
			return block("content", "empty")
		}
		if cfg.MinLength > 0 && len([]rune(text)) < cfg.MinLength {
			return block("content", "too_short")
		}
		return pass()
	}
	// Non-text with no caption.
	if cfg.BlockMediaOnly && text == "" {
		return block("content", "media_only")
	}
	return pass()
}
