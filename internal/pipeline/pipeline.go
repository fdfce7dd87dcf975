// Package pipeline is the message orchestrator: normalize, deduplicate,
// gate, classify, enrich, match flow triggers, run built-ins, route
// intent, check the swarm, and fall back to a direct model call.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/classify"
	"github.com/nextlevelbuilder/superbrain/internal/enrich"
	"github.com/nextlevelbuilder/superbrain/internal/flows"
	"github.com/nextlevelbuilder/superbrain/internal/gating"
	"github.com/nextlevelbuilder/superbrain/internal/intent"
	"github.com/nextlevelbuilder/superbrain/internal/providers"
	"github.com/nextlevelbuilder/superbrain/internal/router"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

// DefaultDedupWindow bounds platform re-deliveries.
const DefaultDedupWindow = 5 * time.Second

// silentSentinel collapses a model answer to no user-visible output.
const silentSentinel = "<<SILENT>>"

// Result is the terminal outcome of one process() pass.
type Result struct {
	Type     protocol.ResultType `json:"type"`
	Response string              `json:"response,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

// Ingestor receives passive messages for retrieval archiving.
type Ingestor interface {
	Ingest(ctx context.Context, msg *bus.Message) error
}

// Enricher is the media enrichment surface (see internal/enrich).
type Enricher interface {
	Run(ctx context.Context, msg *bus.Message, settings *store.UserSettings) (*enrich.Outcome, error)
}

// IntentRouter is the intent routing surface (see internal/intent).
type IntentRouter interface {
	Route(ctx context.Context, msg *bus.Message, bctx *bus.Context) (*intent.Result, error)
}

// Config tunes the pipeline.
type Config struct {
	DedupWindow time.Duration
}

// Pipeline wires the processing steps. Optional collaborators may be nil;
// their steps are skipped.
type Pipeline struct {
	gater      *gating.Gater
	classifier *classify.Classifier
	enricher   Enricher
	intents    IntentRouter
	ai         intent.ModelCaller
	flowEngine flows.Engine
	ingestor   Ingestor
	stores     *store.Stores
	events     bus.EventPublisher
	log        *slog.Logger
	dedup      *deduper
}

func New(cfg Config, gater *gating.Gater, classifier *classify.Classifier, stores *store.Stores, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Pipeline{
		gater:      gater,
		classifier: classifier,
		stores:     stores,
		log:        log,
		dedup:      newDeduper(window),
	}
}

func (p *Pipeline) SetEnricher(e Enricher)           { p.enricher = e }
func (p *Pipeline) SetIntentRouter(r IntentRouter)   { p.intents = r }
func (p *Pipeline) SetDirectAI(m intent.ModelCaller) { p.ai = m }
func (p *Pipeline) SetFlowEngine(e flows.Engine)     { p.flowEngine = e }
func (p *Pipeline) SetIngestor(i Ingestor)           { p.ingestor = i }
func (p *Pipeline) SetEvents(ev bus.EventPublisher)  { p.events = ev }

// Process runs the fixed step order. Every pass ends in exactly one
// structured log record.
func (p *Pipeline) Process(ctx context.Context, msg *bus.Message, bctx *bus.Context) *Result {
	started := time.Now()
	phases := make(map[string]time.Duration, 8)
	var cls classify.Result
	var intentRes *intent.Result

	res := p.run(ctx, msg, bctx, phases, &cls, &intentRes)

	attrs := []any{
		"message", msg.ID,
		"platform", msg.Platform,
		"user", bctx.UserID,
		"result", string(res.Type),
		"intent", string(cls.Intent),
		"intent_confidence", cls.Confidence,
		"total_ms", time.Since(started).Milliseconds(),
	}
	for name, d := range phases {
		attrs = append(attrs, "phase_"+name+"_ms", d.Milliseconds())
	}
	if res.Reason != "" {
		attrs = append(attrs, "reason", res.Reason)
	}
	if intentRes != nil {
		attrs = append(attrs, "tools", len(intentRes.Records))
		if intentRes.Provider != "" {
			attrs = append(attrs, "provider", intentRes.Provider, "model", intentRes.Model)
		}
		if intentRes.Usage != nil {
			attrs = append(attrs, "tokens", intentRes.Usage.TotalTokens)
		}
		for _, rec := range intentRes.Records {
			attrs = append(attrs, "tool_"+rec.Tool+"_ms", rec.Duration.Milliseconds())
		}
	}
	p.log.Info("pipeline.processed", attrs...)
	return res
}

func (p *Pipeline) run(ctx context.Context, msg *bus.Message, bctx *bus.Context, phases map[string]time.Duration, clsOut *classify.Result, intentOut **intent.Result) *Result {
	// 1. Normalize.
	msg.EnsureID()
	if msg.ContentType == "" {
		msg.ContentType = bus.ContentText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	// 2. Deduplicate.
	key := msg.Platform + "|" + msg.From + "|" + msg.ID
	if p.dedup.Seen(key) {
		return &Result{Type: protocol.ResultNoAction, Reason: "duplicate"}
	}

	// 3. Gate.
	phase := time.Now()
	if d := p.gater.Check(ctx, bctx.UserID, msg); !d.Pass {
		phases["gate"] = time.Since(phase)
		return &Result{Type: protocol.ResultNoAction, Reason: d.Reason}
	}
	phases["gate"] = time.Since(phase)

	// 4. Classify.
	phase = time.Now()
	cls := p.classifier.Classify(msg, p.agentFor(ctx, bctx.AgentID))
	phases["classify"] = time.Since(phase)
	*clsOut = cls
	switch cls.Intent {
	case classify.Skip:
		return &Result{Type: protocol.ResultNoAction, Reason: cls.Reason}
	case classify.Passive:
		p.ingestAsync(msg)
		return &Result{Type: protocol.ResultPassiveIngested, Reason: cls.Reason}
	}

	// 5. Media enrichment. The analysis response is held until flows have
	// been consulted.
	var pending string
	if p.enricher != nil {
		phase = time.Now()
		settings := p.settingsFor(ctx, bctx.UserID)
		outcome, err := p.enricher.Run(ctx, msg, settings)
		phases["enrich"] = time.Since(phase)
		if err != nil {
			p.log.Warn("pipeline.enrich_failed", "message", msg.ID, "error", err)
		} else if outcome.Applied {
			pending = outcome.Pending
		}
	}

	// 6. Flow triggers. Matching runs even for flow_only messages.
	phase = time.Now()
	if res := p.matchFlows(ctx, msg, bctx); res != nil {
		phases["flows"] = time.Since(phase)
		return res
	}
	phases["flows"] = time.Since(phase)
	if cls.FlowOnly {
		return &Result{Type: protocol.ResultNoAction, Reason: "flow_only"}
	}

	// 7. Pending analysis emit.
	if pending != "" {
		return &Result{Type: protocol.ResultAIResponse, Response: pending,
			Metadata: map[string]any{"autoAnalyzed": true}}
	}

	// 8. Built-in commands.
	if res := p.builtinCommand(ctx, msg, bctx); res != nil {
		return res
	}

	// 9. Intent router.
	if p.intents != nil {
		phase = time.Now()
		ir, err := p.intents.Route(ctx, msg, bctx)
		phases["intent"] = time.Since(phase)
		if err != nil {
			p.log.Warn("pipeline.intent_failed", "message", msg.ID, "error", err)
		} else {
			*intentOut = ir
			if ir.Type != protocol.ResultNoAction {
				return &Result{Type: ir.Type, Response: ir.Response, Reason: ir.Reasoning}
			}
		}
	}

	// 10. Swarm check.
	if res := p.swarmCheck(ctx, msg, bctx); res != nil {
		return res
	}

	// 11. Direct AI fallback.
	return p.directAI(ctx, msg, bctx, phases)
}

func (p *Pipeline) agentFor(ctx context.Context, agentID string) *store.AgentRecord {
	if agentID == "" || p.stores == nil || p.stores.Agents == nil {
		return nil
	}
	id, err := uuid.Parse(agentID)
	if err != nil {
		return nil
	}
	agent, err := p.stores.Agents.Get(ctx, id)
	if err != nil {
		p.log.Warn("pipeline.agent_load_failed", "agent", agentID, "error", err)
		return nil
	}
	return agent
}

func (p *Pipeline) settingsFor(ctx context.Context, userID string) *store.UserSettings {
	if p.stores != nil && p.stores.Settings != nil {
		if s, err := p.stores.Settings.Get(ctx, userID); err == nil && s != nil {
			return s
		}
	}
	return store.DefaultUserSettings(userID)
}

// ingestAsync hands a passive message to the RAG collaborator without
// blocking the pipeline. Errors are captured in the log only.
func (p *Pipeline) ingestAsync(msg *bus.Message) {
	if p.ingestor == nil {
		return
	}
	cp := *msg
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.ingestor.Ingest(ctx, &cp); err != nil {
			p.log.Warn("pipeline.ingest_failed", "message", cp.ID, "error", err)
		}
	}()
}

func (p *Pipeline) matchFlows(ctx context.Context, msg *bus.Message, bctx *bus.Context) *Result {
	if p.stores == nil || p.stores.Flows == nil {
		return nil
	}
	active, err := p.stores.Flows.ListActive(ctx, bctx.UserID)
	if err != nil {
		p.log.Warn("pipeline.flow_list_failed", "user", bctx.UserID, "error", err)
		return nil
	}
	flow := flows.FirstMatch(active, msg)
	if flow == nil {
		return nil
	}
	if p.flowEngine != nil {
		input := flows.BuildInput(msg, *bctx)
		if err := p.flowEngine.Execute(ctx, flow.ID, input); err != nil {
			p.log.Error("pipeline.flow_execute_failed", "flow", flow.ID, "error", err)
			return &Result{Type: protocol.ResultError, Reason: fmt.Sprintf("flow %s: %v", flow.Name, err)}
		}
	}
	if p.events != nil {
		p.events.Broadcast(bus.Event{Name: protocol.EventFlowTriggered, Payload: map[string]any{
			"flow_id": flow.ID.String(), "message_id": msg.ID,
		}})
	}
	p.log.Info("pipeline.flow_triggered", "flow", flow.Name, "message", msg.ID)
	return &Result{Type: protocol.ResultFlowExecuted,
		Metadata: map[string]any{"flowId": flow.ID.String(), "flowName": flow.Name}}
}

func (p *Pipeline) swarmCheck(ctx context.Context, msg *bus.Message, bctx *bus.Context) *Result {
	if p.stores == nil || p.stores.Agents == nil {
		return nil
	}
	agents, err := p.stores.Agents.ListAutoRespond(ctx, bctx.UserID)
	if err != nil {
		p.log.Warn("pipeline.swarm_list_failed", "user", bctx.UserID, "error", err)
		return nil
	}
	content := strings.ToLower(msg.Content)
	for i := range agents {
		for _, kw := range agents[i].Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || !strings.Contains(content, kw) {
				continue
			}
			p.log.Info("pipeline.swarm_delegated", "agent", agents[i].Name, "keyword", kw)
			return &Result{Type: protocol.ResultSwarmDelegated,
				Metadata: map[string]any{"agentId": agents[i].ID.String(), "agentName": agents[i].Name, "keyword": kw}}
		}
	}
	return nil
}

func (p *Pipeline) directAI(ctx context.Context, msg *bus.Message, bctx *bus.Context, phases map[string]time.Duration) *Result {
	if p.ai == nil {
		return &Result{Type: protocol.ResultNoAction, Reason: "no model configured"}
	}
	phase := time.Now()
	resp, err := p.ai.Process(ctx, router.Request{
		Messages: []providers.Message{providers.User(msg.Content)},
		UserID:   bctx.UserID,
	})
	phases["direct_ai"] = time.Since(phase)
	if err != nil {
		return &Result{Type: protocol.ResultError, Reason: err.Error()}
	}
	if containsFold(resp.Content, silentSentinel) {
		return &Result{Type: protocol.ResultSilent}
	}
	return &Result{Type: protocol.ResultAIResponse, Response: resp.Content,
		Metadata: map[string]any{"provider": resp.Provider, "model": resp.Model}}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
