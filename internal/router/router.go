package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/providers"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

// Request is one routed model call.
type Request struct {
	Messages   []providers.Message
	UserID     string
	ForceTier  Tier // skip classification when set
	PreferFree bool // free endpoints first within the chain

	Temperature float64
	MaxTokens   int
	JSONOnly    bool
}

// Response is the routed call result.
type Response struct {
	Content        string              `json:"content"`
	Model          string              `json:"model"`
	Provider       string              `json:"provider"`
	Usage          *providers.Usage    `json:"usage,omitempty"`
	Classification *Classification     `json:"classification,omitempty"`
	Attempted      []string            `json:"attempted,omitempty"`
}

// Config tunes the router.
type Config struct {
	CircuitThreshold int
	CircuitCooldown  time.Duration
	CallTimeout      time.Duration
	HealthInterval   time.Duration
	Chains           map[string][]string // overrides defaults until a store row activates
}

// Router picks a provider chain by task tier and walks it until one
// provider answers.
type Router struct {
	registry map[string]providers.Provider
	health   *HealthTracker
	failover store.FailoverStore // optional
	usage    store.UsageStore    // optional
	events   bus.EventPublisher  // optional
	log      *slog.Logger

	callTimeout    time.Duration
	healthInterval time.Duration

	mu     sync.RWMutex
	chains map[string][]string
}

func New(cfg Config, provs []providers.Provider, stores *store.Stores, events bus.EventPublisher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 120 * time.Second
	}
	healthInterval := cfg.HealthInterval
	if healthInterval <= 0 {
		healthInterval = 60 * time.Second
	}
	chains := cfg.Chains
	if len(chains) == 0 {
		chains = DefaultChains()
	}

	registry := make(map[string]providers.Provider, len(provs))
	for _, p := range provs {
		registry[p.Name()] = p
	}

	r := &Router{
		registry:       registry,
		health:         NewHealthTracker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		log:            log,
		callTimeout:    callTimeout,
		healthInterval: healthInterval,
		chains:         chains,
	}
	if stores != nil {
		r.failover = stores.Failover
		r.usage = stores.Usage
	}
	r.events = events
	return r
}

// LoadChains pulls the active failover configuration from the store,
// keeping the current chains when none is active.
func (r *Router) LoadChains(ctx context.Context) error {
	if r.failover == nil {
		return nil
	}
	cfg, err := r.failover.Active(ctx)
	if err != nil {
		return fmt.Errorf("load failover config: %w", err)
	}
	if cfg == nil {
		return nil
	}
	r.mu.Lock()
	r.chains = cfg.Chains
	r.mu.Unlock()
	r.log.Info("router.chains_loaded", "tiers", len(cfg.Chains))
	return nil
}

// ActivateChains persists a new chain set and applies it.
func (r *Router) ActivateChains(ctx context.Context, chains map[string][]string) error {
	if r.failover != nil {
		if err := r.failover.Activate(ctx, chains); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.chains = chains
	r.mu.Unlock()
	return nil
}

func (r *Router) chainFor(tier Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if chain, ok := r.chains[string(tier)]; ok {
		return chain
	}
	return DefaultChains()[string(tier)]
}

// Health exposes the tracker snapshot for status endpoints.
func (r *Router) Health() map[string]ProviderHealth {
	return r.health.Snapshot()
}

// Process classifies the task, then walks the tier's provider chain.
func (r *Router) Process(ctx context.Context, req Request) (*Response, error) {
	var cls Classification
	if req.ForceTier != "" {
		cls = Classification{Tier: req.ForceTier, Confidence: 1.0, Analysis: "forced"}
	} else {
		cls = ClassifyTask(lastUserContent(req.Messages))
	}

	chain := r.chainFor(cls.Tier)
	if req.PreferFree {
		chain = r.freeFirst(chain)
	}

	var attempted []string
	var errs []string
	for _, tag := range chain {
		provider, ok := r.registry[tag]
		if !ok {
			continue
		}
		if !r.health.Available(tag) {
			r.log.Debug("router.skip_circuit_open", "provider", tag)
			continue
		}
		attempted = append(attempted, tag)

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		start := time.Now()
		resp, err := provider.Call(callCtx, providers.ChatRequest{
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			JSONOnly:    req.JSONOnly,
		})
		cancel()
		latency := time.Since(start)

		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", tag, err))
			r.recordUsage(req.UserID, tag, provider.DefaultModel(), cls.Tier, nil, latency, false)
			if opened := r.health.RecordFailure(tag, err); opened {
				r.log.Warn("router.circuit_opened", "provider", tag, "error", err)
				r.publish(protocol.EventProviderDown, tag)
			} else {
				r.log.Warn("router.provider_failed", "provider", tag, "error", err)
			}
			continue
		}

		r.health.RecordSuccess(tag)
		r.recordUsage(req.UserID, tag, resp.Model, cls.Tier, resp.Usage, latency, true)
		r.log.Info("router.call_ok",
			"provider", tag, "model", resp.Model, "tier", cls.Tier, "latency_ms", latency.Milliseconds())
		return &Response{
			Content:        resp.Content,
			Model:          resp.Model,
			Provider:       tag,
			Usage:          resp.Usage,
			Classification: &cls,
			Attempted:      attempted,
		}, nil
	}

	if len(attempted) == 0 {
		return nil, fmt.Errorf("no providers available for tier %s", cls.Tier)
	}
	return nil, fmt.Errorf("all providers failed for tier %s [%s]: %s",
		cls.Tier, strings.Join(attempted, ", "), strings.Join(errs, "; "))
}

// ChatText is the single-prompt convenience surface used by tools.
func (r *Router) ChatText(ctx context.Context, prompt string) (string, string, string, error) {
	resp, err := r.Process(ctx, Request{Messages: []providers.Message{providers.User(prompt)}})
	if err != nil {
		return "", "", "", err
	}
	return resp.Content, resp.Provider, resp.Model, nil
}

func (r *Router) freeFirst(chain []string) []string {
	type freer interface{ Free() bool }
	out := make([]string, 0, len(chain))
	var paid []string
	for _, tag := range chain {
		if p, ok := r.registry[tag]; ok {
			if f, ok := p.(freer); ok && f.Free() {
				out = append(out, tag)
				continue
			}
		}
		paid = append(paid, tag)
	}
	return append(out, paid...)
}

func (r *Router) recordUsage(userID, provider, model string, tier Tier, usage *providers.Usage, latency time.Duration, success bool) {
	if r.usage == nil {
		return
	}
	rec := &store.UsageRecord{
		UserID:    userID,
		Provider:  provider,
		Model:     model,
		Tier:      string(tier),
		LatencyMs: latency.Milliseconds(),
		Success:   success,
	}
	if usage != nil {
		rec.PromptTokens = usage.PromptTokens
		rec.CompletionTokens = usage.CompletionTokens
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.usage.Record(ctx, rec); err != nil {
		r.log.Warn("router.usage_record_failed", "error", err)
	}
}

func (r *Router) publish(name, tag string) {
	if r.events == nil {
		return
	}
	r.events.Broadcast(bus.Event{Name: name, Payload: map[string]string{"provider": tag}})
}

// StartHealthMonitor pings every provider on a fixed interval until the
// context is cancelled. Transitions are logged and broadcast.
func (r *Router) StartHealthMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.checkAll(ctx)
			}
		}
	}()
}

// checkAll pings every provider concurrently; a slow endpoint must not
// delay the others past the monitor interval.
func (r *Router) checkAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for tag, provider := range r.registry {
		tag, provider := tag, provider
		g.Go(func() error {
			wasAvailable := r.health.Available(tag)
			if err := provider.Healthy(ctx); err != nil {
				if opened := r.health.RecordFailure(tag, err); opened {
					r.log.Warn("router.health_circuit_opened", "provider", tag, "error", err)
					r.publish(protocol.EventProviderDown, tag)
				}
				return nil
			}
			r.health.RecordSuccess(tag)
			if !wasAvailable {
				r.log.Info("router.provider_recovered", "provider", tag)
				r.publish(protocol.EventProviderUp, tag)
			}
			return nil
		})
	}
	g.Wait()
}

func lastUserContent(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}
