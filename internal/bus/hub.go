package bus

import "sync"

// Hub is an in-process EventPublisher. Handlers run asynchronously so a slow
// subscriber never blocks the pipeline.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string]EventHandler)}
}

func (h *Hub) Subscribe(id string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[id] = handler
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, id)
}

// Broadcast delivers the event to all subscribers. Fire-and-forget.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	handlers := make([]EventHandler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		go fn(event)
	}
}
