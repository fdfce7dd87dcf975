package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// sendTool enqueues one outbound message to the durable delivery queue.
// The platform adapters drain the queue; the orchestrator never talks to
// the platforms directly.
type sendTool struct {
	name        string
	platform    string
	description string
	recipient   string // parameter name: "phone" or "email"
	queue       store.DeliveryStore
	accountID   func(ctx context.Context) string
}

// AccountResolver returns the sending account for the current request.
type AccountResolver func(ctx context.Context) string

func NewSendWhatsAppTool(queue store.DeliveryStore, resolve AccountResolver) Tool {
	return &sendTool{
		name:        ToolSendWhatsApp,
		platform:    "whatsapp",
		description: "Send a WhatsApp message to a phone number.",
		recipient:   "phone",
		queue:       queue,
		accountID:   resolve,
	}
}

func NewSendTelegramTool(queue store.DeliveryStore, resolve AccountResolver) Tool {
	return &sendTool{
		name:        ToolSendTelegram,
		platform:    "telegram",
		description: "Send a Telegram message to a chat.",
		recipient:   "chat_id",
		queue:       queue,
		accountID:   resolve,
	}
}

func NewSendEmailTool(queue store.DeliveryStore, resolve AccountResolver) Tool {
	return &sendTool{
		name:        ToolSendEmail,
		platform:    "email",
		description: "Send an email.",
		recipient:   "email",
		queue:       queue,
		accountID:   resolve,
	}
}

func (t *sendTool) Name() string        { return t.name }
func (t *sendTool) Description() string { return t.description }

func (t *sendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			t.recipient: map[string]interface{}{
				"type":        "string",
				"description": "Recipient address.",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message body to send.",
			},
		},
		"required": []string{t.recipient, "message"},
	}
}

func (t *sendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	recipient, _ := args[t.recipient].(string)
	message, _ := args["message"].(string)
	if recipient == "" {
		return ErrorResult(t.recipient + " is required")
	}
	if message == "" {
		return ErrorResult("message is required")
	}

	accountID := ""
	if t.accountID != nil {
		accountID = t.accountID(ctx)
	}
	item := &store.DeliveryItem{
		AccountID: accountID,
		Recipient: recipient,
		Platform:  t.platform,
		Content:   message,
		Source:    "tool:" + t.name,
	}
	if err := t.queue.Enqueue(ctx, item); err != nil {
		return ErrorResult(fmt.Sprintf("enqueue %s message: %v", t.platform, err)).WithError(err)
	}

	confirmation := fmt.Sprintf("Message queued for %s via %s.", recipient, t.platform)
	return UserResult(confirmation).WithData("message", confirmation)
}
