// Package providers defines the uniform call surface over local, remote
// and CLI-backed model providers, used by the failover router.
package providers

import "context"

// Provider is the interface every model backend implements.
type Provider interface {
	// Call sends a conversation and returns the model's answer.
	Call(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Healthy performs a cheap capability check (model list, version
	// endpoint, binary lookup). Used by the health monitor.
	Healthy(ctx context.Context) error

	// Name returns the provider tag (e.g. "local", "remote-free",
	// "cli-claude") used in failover chains.
	Name() string

	// DefaultModel returns the model used when the request names none.
	DefaultModel() string
}

// ChatRequest is the input for a Call.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	JSONOnly    bool    `json:"json_only,omitempty"` // constrain output to JSON
}

// ChatResponse is the result of a Call.
type ChatResponse struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    *Usage `json:"usage,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"` // "system", "user", "assistant"
	Content string         `json:"content"`
	Images  []ImageContent `json:"images,omitempty"` // vision input
}

// ImageContent is a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64-encoded bytes
}

// Usage tracks token consumption when the backend reports it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// System and User build single-turn conversations without boilerplate.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }
