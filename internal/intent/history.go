package intent

import (
	"strings"
	"sync"
	"time"
)

const (
	historyKeep   = 20
	historyInject = 10
)

// Exchange is one user/assistant turn pair.
type Exchange struct {
	User      string
	Assistant string
	At        time.Time
}

// History keeps a per-conversation ring of recent exchanges for prompt
// context. Purely in-memory; a restart starts fresh.
type History struct {
	mu     sync.Mutex
	byConv map[string][]Exchange
}

func NewHistory() *History {
	return &History{byConv: make(map[string][]Exchange)}
}

func (h *History) Add(conversationID, user, assistant string) {
	if conversationID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := append(h.byConv[conversationID], Exchange{User: user, Assistant: assistant, At: time.Now()})
	if len(ring) > historyKeep {
		ring = ring[len(ring)-historyKeep:]
	}
	h.byConv[conversationID] = ring
}

// Last returns up to n most recent exchanges, oldest first.
func (h *History) Last(conversationID string, n int) []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := h.byConv[conversationID]
	if len(ring) > n {
		ring = ring[len(ring)-n:]
	}
	out := make([]Exchange, len(ring))
	copy(out, ring)
	return out
}

// render formats exchanges for the system prompt.
func renderHistory(exchanges []Exchange) string {
	if len(exchanges) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, ex := range exchanges {
		sb.WriteString("User: ")
		sb.WriteString(ex.User)
		sb.WriteString("\n")
		if ex.Assistant != "" {
			sb.WriteString("Assistant: ")
			sb.WriteString(ex.Assistant)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
