package classify

import (
	"testing"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func newTestClassifier() *Classifier {
	return New(
		[]string{"@newsletter", "@broadcast", "@channel"},
		[]string{"@status"},
	)
}

func TestClassifyBySource(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		name string
		msg  bus.Message
		want Intent
	}{
		{"self message", bus.Message{From: "me@c.us", FromMe: true, Content: "note"}, Skip},
		{"skip source", bus.Message{From: "x@status", Content: "story"}, Skip},
		{"newsletter", bus.Message{From: "news@newsletter", Content: "today's digest"}, Passive},
		{"broadcast", bus.Message{From: "promo@broadcast", Content: "sale now"}, Passive},
		{"direct message", bus.Message{From: "+1@c.us", Content: "hello there"}, Active},
		{"group undecided stays passive", bus.Message{From: "+1@c.us", IsGroup: true, GroupID: "g@g.us", Content: "chit chat"}, Passive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(&tt.msg, nil)
			if got.Intent != tt.want {
				t.Fatalf("intent = %s, want %s (reason %s)", got.Intent, tt.want, got.Reason)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Fatalf("confidence %f out of range", got.Confidence)
			}
		})
	}
}

func TestContentSignalsUpgrade(t *testing.T) {
	c := newTestClassifier()
	c.SetAgentNames([]string{"brain"})

	tests := []struct {
		name    string
		content string
	}{
		{"command", "/status"},
		{"question", "is anyone around?"},
		{"help word english", "I need help with my order"},
		{"help word spanish", "necesito ayuda por favor"},
		{"agent mention", "hey @brain summarize this"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := bus.Message{From: "+1@c.us", IsGroup: true, GroupID: "g@g.us", Content: tt.content}
			got := c.Classify(&msg, nil)
			if got.Intent != Active {
				t.Fatalf("intent = %s, want active (reason %s)", got.Intent, got.Reason)
			}
		})
	}
}

func TestPassiveReinforcementNeverDowngrades(t *testing.T) {
	c := newTestClassifier()

	// Direct message with a bare URL stays active: reinforcement signals
	// only apply when the base intent is already passive.
	msg := bus.Message{From: "+1@c.us", Content: "https://example.com/article"}
	got := c.Classify(&msg, nil)
	if got.Intent != Active {
		t.Fatalf("direct url intent = %s, want active", got.Intent)
	}

	// Same content in a newsletter reinforces passive confidence.
	msg = bus.Message{From: "x@newsletter", Content: "https://example.com/article"}
	got = c.Classify(&msg, nil)
	if got.Intent != Passive || got.Confidence < 0.85 {
		t.Fatalf("newsletter url = %s/%.2f, want passive/>=0.85", got.Intent, got.Confidence)
	}
}

func TestAgentOverrides(t *testing.T) {
	c := newTestClassifier()
	msg := bus.Message{From: "+1@c.us", Content: "hello?"}

	tests := []struct {
		name  string
		agent store.AgentRecord
		want  Intent
		flow  bool
	}{
		{"disabled wins over question", store.AgentRecord{ProcessingMode: "disabled"}, Skip, false},
		{"passive wins over question", store.AgentRecord{ProcessingMode: "passive"}, Passive, false},
		{"flow only routes around intent router", store.AgentRecord{ProcessingMode: "flow_only"}, Active, true},
		{"agent skip source", store.AgentRecord{SkipSources: []string{"@c.us"}}, Skip, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(&msg, &tt.agent)
			if got.Intent != tt.want || got.FlowOnly != tt.flow {
				t.Fatalf("got %s/flowOnly=%v, want %s/flowOnly=%v", got.Intent, got.FlowOnly, tt.want, tt.flow)
			}
		})
	}
}
