package tools

import (
	"context"
	"fmt"
	"strings"
)

// Chatter is the minimal surface the aiChat tool needs from the provider
// router. Implemented by router.Router.
type Chatter interface {
	ChatText(ctx context.Context, prompt string) (content, provider, model string, err error)
}

// AIChatTool answers a free-form question through the failover router.
// When the invocation carries prefetched page content, it is prepended as
// context.
type AIChatTool struct {
	chatter Chatter
}

func NewAIChatTool(chatter Chatter) *AIChatTool {
	return &AIChatTool{chatter: chatter}
}

func (t *AIChatTool) Name() string { return ToolAIChat }

func (t *AIChatTool) Description() string {
	return "Answer a question or chat using the AI model. Use when no other tool applies."
}

func (t *AIChatTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The user's question or message.",
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Optional reference material to ground the answer.",
			},
		},
		"required": []string{"message"},
	}
}

func (t *AIChatTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	message, _ := args["message"].(string)
	if message == "" {
		return ErrorResult("message is required")
	}

	prompt := message
	if extra, _ := args["context"].(string); extra != "" {
		var sb strings.Builder
		sb.WriteString("Reference material:\n")
		sb.WriteString(extra)
		sb.WriteString("\n\nQuestion: ")
		sb.WriteString(message)
		prompt = sb.String()
	}

	content, provider, model, err := t.chatter.ChatText(ctx, prompt)
	if err != nil {
		return ErrorResult(fmt.Sprintf("chat failed: %v", err)).WithError(err)
	}
	res := UserResult(content).WithData("response", content)
	res.Provider = provider
	res.Model = model
	return res
}
