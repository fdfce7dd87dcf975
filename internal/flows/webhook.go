package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// WebhookEngine hands trigger matches to an external flow engine over HTTP.
// The engine runs the flow; the orchestrator only needs the handoff to be
// acknowledged.
type WebhookEngine struct {
	url    string
	client *http.Client
}

func NewWebhookEngine(url string, client *http.Client) *WebhookEngine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookEngine{url: url, client: client}
}

type webhookPayload struct {
	FlowID string `json:"flow_id"`
	Input  *Input `json:"input"`
}

func (e *WebhookEngine) Execute(ctx context.Context, flowID uuid.UUID, input *Input) error {
	body, err := json.Marshal(webhookPayload{FlowID: flowID.String(), Input: input})
	if err != nil {
		return fmt.Errorf("marshal flow input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build flow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("flow engine call: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("flow engine returned %d", resp.StatusCode)
	}
	return nil
}
