package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://127.0.0.1:11434"

// OllamaProvider is the local tier: an Ollama runtime on this machine or
// the local network. Cheapest and first in line for trivial tasks.
type OllamaProvider struct {
	client *api.Client
	tag    string
	model  string
}

// NewOllamaProvider connects to an Ollama host. host may be empty
// (default local endpoint).
func NewOllamaProvider(tag, host, model string) (*OllamaProvider, error) {
	if host == "" {
		host = defaultOllamaHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	client := api.NewClient(base, &http.Client{Timeout: 5 * time.Minute})
	return &OllamaProvider{client: client, tag: tag, model: model}, nil
}

func (p *OllamaProvider) Name() string         { return p.tag }
func (p *OllamaProvider) DefaultModel() string { return p.model }

func (p *OllamaProvider) Call(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := api.Message{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			raw, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, fmt.Errorf("decode image: %w", err)
			}
			msg.Images = append(msg.Images, api.ImageData(raw))
		}
		messages = append(messages, msg)
	}

	options := map[string]interface{}{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if req.JSONOnly {
		chatReq.Format = json.RawMessage(`"json"`)
	}

	var out ChatResponse
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.Content += resp.Message.Content
		out.Model = resp.Model
		if resp.Done {
			out.Usage = &Usage{
				PromptTokens:     resp.Metrics.PromptEvalCount,
				CompletionTokens: resp.Metrics.EvalCount,
				TotalTokens:      resp.Metrics.PromptEvalCount + resp.Metrics.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	out.Provider = p.tag
	if out.Model == "" {
		out.Model = model
	}
	return &out, nil
}

func (p *OllamaProvider) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.Version(ctx); err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	return nil
}
