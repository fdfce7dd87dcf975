package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible endpoint: hosted OpenAI,
// OpenRouter free tiers, or self-hosted gateways.
type OpenAIProvider struct {
	client *openai.Client
	tag    string
	model  string
	free   bool
}

// NewOpenAIProvider builds a provider from an endpoint config. The API key
// is read from the named environment variable, never from config files.
func NewOpenAIProvider(tag, baseURL, apiKeyEnv, model string, free bool) (*OpenAIProvider, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: env %s is empty", tag, apiKeyEnv)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		tag:    tag,
		model:  model,
		free:   free,
	}, nil
}

func (p *OpenAIProvider) Name() string         { return p.tag }
func (p *OpenAIProvider) DefaultModel() string { return p.model }

// Free reports whether this endpoint bills nothing (preferFree routing).
func (p *OpenAIProvider) Free() bool { return p.free }

func (p *OpenAIProvider) Call(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Images) > 0 {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.tag, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat: empty choices", p.tag)
	}

	return &ChatResponse{
		Content:  resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: p.tag,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", p.tag, err)
	}
	return nil
}
