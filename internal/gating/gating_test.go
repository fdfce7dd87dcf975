package gating

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func testGater(t *testing.T, cfg *store.GatingConfig) (*Gater, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	if cfg != nil {
		if err := stores.Gating.SaveConfig(context.Background(), cfg); err != nil {
			t.Fatalf("save config: %v", err)
		}
	}
	return New(stores.Gating, NewMemoryLimiter(), nil), stores
}

func TestEchoGate(t *testing.T) {
	cfg := store.DefaultGatingConfig("u1")
	cfg.BotIdentifiers = []string{"bot@c.us"}
	g, _ := testGater(t, cfg)

	tests := []struct {
		name   string
		msg    bus.Message
		pass   bool
		reason string
	}{
		{"own message blocked", bus.Message{From: "+1@c.us", FromMe: true, Content: "hello"}, false, "gated:echo:fromMe"},
		{"bot identifier blocked", bus.Message{From: "bot@c.us", Content: "hello"}, false, "gated:echo:bot_identifier"},
		{"regular sender passes", bus.Message{From: "+1@c.us", Content: "hello"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(context.Background(), "u1", &tt.msg)
			if d.Pass != tt.pass {
				t.Fatalf("pass = %v, want %v (reason %q)", d.Pass, tt.pass, d.Reason)
			}
			if !tt.pass && d.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestAllowlistGate(t *testing.T) {
	cfg := store.DefaultGatingConfig("u1")
	cfg.AllowlistEnabled = true
	g, stores := testGater(t, cfg)
	ctx := context.Background()

	if err := stores.Gating.AllowGroup(ctx, "g-ok", "wa"); err != nil {
		t.Fatalf("allow group: %v", err)
	}

	msg := bus.Message{From: "+1@c.us", Content: "hi", IsGroup: true, GroupID: "g-no", Platform: "wa"}
	if d := g.Check(ctx, "u1", &msg); d.Pass {
		t.Fatal("unlisted group should be blocked")
	}

	msg.GroupID = "g-ok"
	if d := g.Check(ctx, "u1", &msg); !d.Pass {
		t.Fatalf("allowlisted group blocked: %s", d.Reason)
	}

	msg.IsGroup = false
	msg.GroupID = ""
	if d := g.Check(ctx, "u1", &msg); !d.Pass {
		t.Fatalf("direct message should bypass allowlist: %s", d.Reason)
	}
}

func TestMentionGate(t *testing.T) {
	cfg := store.DefaultGatingConfig("u1")
	cfg.MentionEnabled = true
	cfg.BotNames = []string{"Brain"}
	g, _ := testGater(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  bus.Message
		pass bool
	}{
		{"group without mention blocked", bus.Message{From: "a", Content: "hello everyone", IsGroup: true}, false},
		{"at-mention passes", bus.Message{From: "a", Content: "hey @brain help", IsGroup: true}, true},
		{"bare name passes", bus.Message{From: "a", Content: "brain, what is this", IsGroup: true}, true},
		{"reply to bot passes", bus.Message{From: "a", Content: "yes", IsGroup: true, ReplyToBot: true}, true},
		{"direct message ignores gate", bus.Message{From: "a", Content: "hello"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := g.Check(ctx, "u1", &tt.msg); d.Pass != tt.pass {
				t.Fatalf("pass = %v, want %v (reason %q)", d.Pass, tt.pass, d.Reason)
			}
		})
	}
}

func TestRateLimitGate(t *testing.T) {
	cfg := store.DefaultGatingConfig("u1")
	cfg.RateLimitEnabled = true
	cfg.RateLimitMax = 2
	cfg.RateLimitWindow = 60
	g, _ := testGater(t, cfg)
	ctx := context.Background()

	msg := bus.Message{From: "+1@c.us", Platform: "wa", Content: "hi"}
	for i := 0; i < 2; i++ {
		if d := g.Check(ctx, "u1", &msg); !d.Pass {
			t.Fatalf("message %d blocked early: %s", i+1, d.Reason)
		}
	}
	if d := g.Check(ctx, "u1", &msg); d.Pass {
		t.Fatal("third message within window should be blocked")
	}

	// Different sender has its own counter.
	other := bus.Message{From: "+2@c.us", Platform: "wa", Content: "hi"}
	if d := g.Check(ctx, "u1", &other); !d.Pass {
		t.Fatalf("other sender blocked: %s", d.Reason)
	}
}

func TestContentGate(t *testing.T) {
	cfg := store.DefaultGatingConfig("u1")
	cfg.MinLength = 3
	cfg.BlockMediaOnly = true
	g, _ := testGater(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  bus.Message
		pass bool
	}{
		{"empty text blocked", bus.Message{From: "a", Content: "   "}, false},
		{"short text blocked", bus.Message{From: "a", Content: "hi"}, false},
		{"long enough passes", bus.Message{From: "a", Content: "hello"}, true},
		{"captionless media blocked", bus.Message{From: "a", ContentType: bus.ContentImage}, false},
		{"captioned media passes", bus.Message{From: "a", ContentType: bus.ContentImage, Content: "look at this"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := g.Check(ctx, "u1", &tt.msg); d.Pass != tt.pass {
				t.Fatalf("pass = %v, want %v (reason %q)", d.Pass, tt.pass, d.Reason)
			}
		})
	}
}

func TestConfigCacheAndInvalidate(t *testing.T) {
	cfg := store.DefaultGatingConfig("u1")
	g, stores := testGater(t, cfg)
	ctx := context.Background()

	msg := bus.Message{From: "+1@c.us", FromMe: true, Content: "hi"}
	if d := g.Check(ctx, "u1", &msg); d.Pass {
		t.Fatal("echo gate should block")
	}

	// Disabling the gate in the store is invisible until invalidation.
	cfg.EchoEnabled = false
	if err := stores.Gating.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if d := g.Check(ctx, "u1", &msg); d.Pass {
		t.Fatal("cached config should still block")
	}
	g.InvalidateConfig("u1")
	if d := g.Check(ctx, "u1", &msg); !d.Pass {
		t.Fatalf("fresh config should pass: %s", d.Reason)
	}
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		n, err := l.Incr(ctx, "k", time.Millisecond)
		if err != nil || n != i {
			t.Fatalf("incr %d = %d, %v", i, n, err)
		}
	}
	time.Sleep(5 * time.Millisecond)
	n, err := l.Incr(ctx, "k", time.Millisecond)
	if err != nil || n != 1 {
		t.Fatalf("after expiry incr = %d, %v; want 1", n, err)
	}
}
