package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/classify"
	"github.com/nextlevelbuilder/superbrain/internal/enrich"
	"github.com/nextlevelbuilder/superbrain/internal/flows"
	"github.com/nextlevelbuilder/superbrain/internal/gating"
	"github.com/nextlevelbuilder/superbrain/internal/intent"
	"github.com/nextlevelbuilder/superbrain/internal/router"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

type fakeAI struct {
	reply string
	err   error
	calls int
}

func (f *fakeAI) Process(context.Context, router.Request) (*router.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &router.Response{Content: f.reply, Provider: "fake", Model: "fake-m"}, nil
}

type fakeIntent struct {
	res *intent.Result
	err error
}

func (f *fakeIntent) Route(context.Context, *bus.Message, *bus.Context) (*intent.Result, error) {
	return f.res, f.err
}

type fakeEnricher struct {
	outcome *enrich.Outcome
}

func (f *fakeEnricher) Run(context.Context, *bus.Message, *store.UserSettings) (*enrich.Outcome, error) {
	return f.outcome, nil
}

type fakeIngestor struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
}

func (f *fakeIngestor) Ingest(_ context.Context, msg *bus.Message) error {
	f.mu.Lock()
	f.got = append(f.got, msg.ID)
	f.mu.Unlock()
	close(f.done)
	return nil
}

type fakeEngine struct {
	executed []uuid.UUID
	err      error
}

func (f *fakeEngine) Execute(_ context.Context, flowID uuid.UUID, _ *flows.Input) error {
	f.executed = append(f.executed, flowID)
	return f.err
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	gater := gating.New(stores.Gating, nil, nil)
	classifier := classify.New(nil, nil)
	p := New(Config{}, gater, classifier, stores, nil)
	return p, stores
}

func directMessage(id, content string) *bus.Message {
	return &bus.Message{
		ID:          id,
		Platform:    "whatsapp",
		From:        "123@c.us",
		Content:     content,
		ContentType: bus.ContentText,
	}
}

func userCtx() *bus.Context { return &bus.Context{UserID: "u1", ConversationID: "c1"} }

func TestDuplicateDropped(t *testing.T) {
	p, _ := newTestPipeline(t)
	ai := &fakeAI{reply: "hi"}
	p.SetDirectAI(ai)

	first := p.Process(context.Background(), directMessage("m1", "hello there"), userCtx())
	if first.Type != protocol.ResultAIResponse {
		t.Fatalf("first = %+v", first)
	}
	second := p.Process(context.Background(), directMessage("m1", "hello there"), userCtx())
	if second.Type != protocol.ResultNoAction || second.Reason != "duplicate" {
		t.Fatalf("second = %+v", second)
	}
	if ai.calls != 1 {
		t.Fatalf("ai calls = %d", ai.calls)
	}
}

func TestEchoGated(t *testing.T) {
	p, _ := newTestPipeline(t)
	msg := directMessage("m2", "hello")
	msg.FromMe = true

	res := p.Process(context.Background(), msg, userCtx())
	if res.Type != protocol.ResultNoAction || !strings.HasPrefix(res.Reason, "gated:echo") {
		t.Fatalf("res = %+v", res)
	}
}

func TestPassiveIngested(t *testing.T) {
	p, _ := newTestPipeline(t)
	ing := &fakeIngestor{done: make(chan struct{})}
	p.SetIngestor(ing)

	msg := directMessage("m3", "random group chatter about lunch")
	msg.IsGroup = true
	msg.GroupID = "g1"

	res := p.Process(context.Background(), msg, userCtx())
	if res.Type != protocol.ResultPassiveIngested {
		t.Fatalf("res = %+v", res)
	}
	<-ing.done
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if len(ing.got) != 1 || ing.got[0] != "m3" {
		t.Fatalf("ingested = %v", ing.got)
	}
}

func TestFlowExecutedBeforePendingAnalysis(t *testing.T) {
	p, stores := newTestPipeline(t)
	engine := &fakeEngine{}
	p.SetFlowEngine(engine)
	p.SetEnricher(&fakeEnricher{outcome: &enrich.Outcome{
		Applied: true, AnalysisType: "document", Pending: "[extracted text]",
	}})

	flowID := bus.GenID()
	err := stores.Flows.Insert(context.Background(), &store.Flow{
		ID: flowID, UserID: "u1", Name: "invoice-intake", Active: true,
		Trigger: store.FlowTrigger{Platform: "any", Document: true, PatternType: "any"},
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := directMessage("m4", "please file this")
	msg.ContentType = bus.ContentDocument
	msg.MediaURL = "/tmp/x.pdf"

	res := p.Process(context.Background(), msg, userCtx())
	if res.Type != protocol.ResultFlowExecuted {
		t.Fatalf("res = %+v", res)
	}
	if len(engine.executed) != 1 || engine.executed[0] != flowID {
		t.Fatalf("executed = %v", engine.executed)
	}
}

func TestPendingAnalysisEmittedWithoutFlow(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetEnricher(&fakeEnricher{outcome: &enrich.Outcome{
		Applied: true, AnalysisType: "voice", Pending: "[Voice Transcription]: call me back",
	}})

	msg := directMessage("m5", "")
	msg.ContentType = bus.ContentVoice
	msg.MediaURL = "/tmp/x.ogg"

	res := p.Process(context.Background(), msg, userCtx())
	if res.Type != protocol.ResultAIResponse || !strings.Contains(res.Response, "call me back") {
		t.Fatalf("res = %+v", res)
	}
}

func TestBuiltinHelp(t *testing.T) {
	p, _ := newTestPipeline(t)
	res := p.Process(context.Background(), directMessage("m6", "/help"), userCtx())
	if res.Type != protocol.ResultToolExecuted || !strings.Contains(res.Response, "/status") {
		t.Fatalf("res = %+v", res)
	}
}

func TestBuiltinStatusCountsRunning(t *testing.T) {
	p, stores := newTestPipeline(t)
	if err := stores.Executions.Insert(context.Background(), &store.ExecutionRecord{
		TrackingID: "t1", UserID: "u1", Status: store.ExecRunning,
	}); err != nil {
		t.Fatal(err)
	}
	res := p.Process(context.Background(), directMessage("m7", "/status"), userCtx())
	if !strings.Contains(res.Response, "System Status: Online") {
		t.Fatalf("response missing status line: %q", res.Response)
	}
	if !strings.Contains(res.Response, "1 background task") {
		t.Fatalf("response = %q", res.Response)
	}
}

func TestIntentResultPropagated(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetIntentRouter(&fakeIntent{res: &intent.Result{
		Type: protocol.ResultToolExecuted, Response: "searched",
	}})
	ai := &fakeAI{reply: "should not be used"}
	p.SetDirectAI(ai)

	res := p.Process(context.Background(), directMessage("m8", "search for cats"), userCtx())
	if res.Type != protocol.ResultToolExecuted || res.Response != "searched" {
		t.Fatalf("res = %+v", res)
	}
	if ai.calls != 0 {
		t.Fatal("direct AI ran despite intent result")
	}
}

func TestSwarmDelegation(t *testing.T) {
	p, stores := newTestPipeline(t)
	p.SetIntentRouter(&fakeIntent{res: &intent.Result{Type: protocol.ResultNoAction}})
	if err := stores.Agents.Insert(context.Background(), &store.AgentRecord{
		ID: bus.GenID(), UserID: "u1", Name: "support-bot",
		AutoRespond: true, Keywords: []string{"refund"},
	}); err != nil {
		t.Fatal(err)
	}

	res := p.Process(context.Background(), directMessage("m9", "I want a REFUND please"), userCtx())
	if res.Type != protocol.ResultSwarmDelegated {
		t.Fatalf("res = %+v", res)
	}
	if res.Metadata["agentName"] != "support-bot" {
		t.Fatalf("metadata = %v", res.Metadata)
	}
}

func TestDirectAISilentSentinel(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetDirectAI(&fakeAI{reply: "nothing to add <<silent>>"})

	res := p.Process(context.Background(), directMessage("m10", "just musing out loud"), userCtx())
	if res.Type != protocol.ResultSilent {
		t.Fatalf("res = %+v", res)
	}
}

func TestDirectAIErrorSurfaces(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetDirectAI(&fakeAI{err: errors.New("all providers failed")})

	res := p.Process(context.Background(), directMessage("m11", "hello?"), userCtx())
	if res.Type != protocol.ResultError || !strings.Contains(res.Reason, "all providers failed") {
		t.Fatalf("res = %+v", res)
	}
}
