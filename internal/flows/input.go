package flows

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// Engine is the external flow execution collaborator. The orchestrator
// only matches triggers and hands over an input record.
type Engine interface {
	Execute(ctx context.Context, flowID uuid.UUID, input *Input) error
}

// Input is the record handed to the flow engine on a trigger match.
type Input struct {
	Message      *bus.Message   `json:"message"`
	Conversation bus.Context    `json:"conversation"`
	Sender       bus.Sender     `json:"sender"`
	Variables    map[string]any `json:"variables"`
}

// BuildInput flattens the trigger context into the variable set flows
// reference by name.
func BuildInput(msg *bus.Message, convo bus.Context) *Input {
	phone := msg.Sender.Phone
	if phone == "" {
		phone = strings.SplitN(msg.From, "@", 2)[0]
	}
	chatID := msg.From
	if msg.IsGroup {
		chatID = msg.GroupID
	}
	return &Input{
		Message:      msg,
		Conversation: convo,
		Sender:       msg.Sender,
		Variables: map[string]any{
			"triggerPhone":      phone,
			"triggerChatId":     chatID,
			"triggerMessage":    msg.Content,
			"triggerMessageId":  msg.ID,
			"triggerSenderName": msg.Sender.Name,
			"triggerIsGroup":    msg.IsGroup,
			"triggerGroupName":  msg.GroupName,
			"triggerHasMedia":   msg.MediaURL != "",
			"triggerMediaType":  string(msg.ContentType),
		},
	}
}

// FirstMatch returns the first active flow whose trigger matches, in the
// store's listing order.
func FirstMatch(flows []store.Flow, msg *bus.Message) *store.Flow {
	for i := range flows {
		if Matches(&flows[i].Trigger, msg) {
			return &flows[i]
		}
	}
	return nil
}
