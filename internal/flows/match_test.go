package flows

import (
	"testing"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func boolPtr(b bool) *bool { return &b }

func TestMatchesPlatformAndType(t *testing.T) {
	msg := bus.Message{Platform: "wa", ContentType: bus.ContentImage, Content: "receipt", From: "+1@c.us"}

	tests := []struct {
		name string
		tr   store.FlowTrigger
		want bool
	}{
		{"any platform, no type flags", store.FlowTrigger{Platform: "any"}, true},
		{"exact platform", store.FlowTrigger{Platform: "wa"}, true},
		{"wrong platform", store.FlowTrigger{Platform: "tg"}, false},
		{"image flag set", store.FlowTrigger{Image: true}, true},
		{"only text flag set", store.FlowTrigger{Text: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(&tt.tr, &msg); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesContentPatterns(t *testing.T) {
	tests := []struct {
		name    string
		tr      store.FlowTrigger
		content string
		want    bool
	}{
		{"any skips content checks", store.FlowTrigger{PatternType: "any"}, "whatever", true},
		{"contains case-insensitive", store.FlowTrigger{PatternType: "contains", Pattern: "ORDER"}, "my order arrived", true},
		{"contains case-sensitive miss", store.FlowTrigger{PatternType: "contains", Pattern: "ORDER", CaseSensitive: true}, "my order arrived", false},
		{"starts_with", store.FlowTrigger{PatternType: "starts_with", Pattern: "!deploy"}, "!deploy prod", true},
		{"ends_with", store.FlowTrigger{PatternType: "ends_with", Pattern: "done"}, "all done", true},
		{"exact", store.FlowTrigger{PatternType: "exact", Pattern: "ping"}, "Ping", true},
		{"regex", store.FlowTrigger{PatternType: "regex", Pattern: `^\d{4}-\d{2}`}, "2026-08 report", true},
		{"bad regex never matches", store.FlowTrigger{PatternType: "regex", Pattern: `([`}, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := bus.Message{Content: tt.content, ContentType: bus.ContentText}
			if got := Matches(&tt.tr, &msg); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesSenderAndGroup(t *testing.T) {
	group := bus.Message{From: "+49123@c.us", IsGroup: true, GroupID: "team@g.us", ContentType: bus.ContentText, Content: "hi"}
	private := bus.Message{From: "+49123@c.us", ContentType: bus.ContentText, Content: "hi"}

	tests := []struct {
		name string
		tr   store.FlowTrigger
		msg  *bus.Message
		want bool
	}{
		{"from exact", store.FlowTrigger{From: "+49123@c.us"}, &private, true},
		{"from mismatch", store.FlowTrigger{From: "+1@c.us"}, &private, false},
		{"not_from excludes", store.FlowTrigger{NotFrom: "+49123@c.us"}, &private, false},
		{"sender filter substring", store.FlowTrigger{SenderFilter: "+1, 49123"}, &private, true},
		{"sender filter miss", store.FlowTrigger{SenderFilter: "+7, +8"}, &private, false},
		{"is_group true", store.FlowTrigger{IsGroup: boolPtr(true)}, &group, true},
		{"is_group true vs private", store.FlowTrigger{IsGroup: boolPtr(true)}, &private, false},
		{"from_groups only", store.FlowTrigger{FromGroups: true}, &private, false},
		{"from_private only", store.FlowTrigger{FromPrivate: true}, &group, false},
		{"both group flags accept all", store.FlowTrigger{FromGroups: true, FromPrivate: true}, &private, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(&tt.tr, tt.msg); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildInputVariables(t *testing.T) {
	msg := bus.Message{
		ID:          "m-1",
		Platform:    "wa",
		From:        "+49123@c.us",
		Content:     "invoice attached",
		ContentType: bus.ContentDocument,
		MediaURL:    "https://cdn/x.pdf",
		Sender:      bus.Sender{ID: "+49123@c.us", Name: "Dana"},
		IsGroup:     true,
		GroupID:     "team@g.us",
		GroupName:   "Team",
	}
	in := BuildInput(&msg, bus.Context{UserID: "u1"})

	want := map[string]any{
		"triggerPhone":      "+49123",
		"triggerChatId":     "team@g.us",
		"triggerMessage":    "invoice attached",
		"triggerMessageId":  "m-1",
		"triggerSenderName": "Dana",
		"triggerIsGroup":    true,
		"triggerGroupName":  "Team",
		"triggerHasMedia":   true,
		"triggerMediaType":  "document",
	}
	for k, v := range want {
		if in.Variables[k] != v {
			t.Errorf("%s = %v, want %v", k, in.Variables[k], v)
		}
	}
}

func TestFirstMatchOrder(t *testing.T) {
	flows := []store.Flow{
		{Name: "first", Trigger: store.FlowTrigger{PatternType: "contains", Pattern: "order"}},
		{Name: "second", Trigger: store.FlowTrigger{PatternType: "any"}},
	}
	msg := bus.Message{Content: "new order", ContentType: bus.ContentText}
	got := FirstMatch(flows, &msg)
	if got == nil || got.Name != "first" {
		t.Fatalf("FirstMatch = %v, want first", got)
	}

	msg.Content = "hello"
	got = FirstMatch(flows, &msg)
	if got == nil || got.Name != "second" {
		t.Fatalf("FirstMatch = %v, want second", got)
	}
}
