package flows

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
)

func TestWebhookEngineExecute(t *testing.T) {
	var got webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	flowID := bus.GenID()
	msg := &bus.Message{ID: "m1", Platform: "whatsapp", From: "123", Content: "order received"}
	input := BuildInput(msg, bus.Context{UserID: "u1"})

	engine := NewWebhookEngine(ts.URL, nil)
	if err := engine.Execute(context.Background(), flowID, input); err != nil {
		t.Fatal(err)
	}
	if got.FlowID != flowID.String() {
		t.Fatalf("flow id = %s", got.FlowID)
	}
	if got.Input == nil || got.Input.Variables["triggerMessage"] != "order received" {
		t.Fatalf("input = %+v", got.Input)
	}
}

func TestWebhookEngineRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "engine down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	engine := NewWebhookEngine(ts.URL, nil)
	err := engine.Execute(context.Background(), bus.GenID(), &Input{})
	if err == nil {
		t.Fatal("expected error on 503")
	}
}
