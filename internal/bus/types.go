package bus

import (
	"time"

	"github.com/google/uuid"
)

// ContentType enumerates the payload kinds a platform adapter can produce.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentVoice    ContentType = "voice"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentLocation ContentType = "location"
	ContentContact  ContentType = "contact"
	ContentCallLog  ContentType = "call_log"
)

// Sender identifies the human (or bot) behind a message.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Message is the unified message every platform adapter normalizes into.
// Content may be mutated in place only by media enrichers, which must also
// record what they did under Metadata["analysis"].
type Message struct {
	ID             string      `json:"id"` // UUID, assigned by the pipeline if missing
	Platform       string      `json:"platform"`
	ExternalID     string      `json:"external_id,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	From           string      `json:"from"`
	To             string      `json:"to,omitempty"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	MediaURL       string      `json:"media_url,omitempty"`
	MimeType       string      `json:"mime_type,omitempty"`
	Sender         Sender      `json:"sender"`
	IsGroup        bool        `json:"is_group,omitempty"`
	GroupID        string      `json:"group_id,omitempty"`
	GroupName      string      `json:"group_name,omitempty"`
	FromMe         bool        `json:"from_me,omitempty"`
	ReplyToBot     bool        `json:"reply_to_bot,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// EnsureID assigns a fresh UUID when the adapter did not provide one.
func (m *Message) EnsureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

// Meta returns the metadata map, allocating it on first use.
func (m *Message) Meta() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// Context carries request-scoped identity through the pipeline.
type Context struct {
	UserID         string `json:"user_id"`
	AgentID        string `json:"agent_id,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Mode           string `json:"mode,omitempty"`

	// Reply delivers a response back over the originating transport.
	// Optional; the delivery queue is the durable path.
	Reply func(content string) error `json:"-"`
}

// Event is a server-side event broadcast to WebSocket clients.
type Event struct {
	Name    string `json:"name"`
	AgentID string `json:"agent_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the execution manager to decouple from
// the concrete hub.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// GenID returns a new UUID for DB rows (v7 keeps btree inserts ordered).
func GenID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
