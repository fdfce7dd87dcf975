package protocol

// WebSocket event names pushed from server to dashboard clients.
const (
	EventHealth   = "health"
	EventPipeline = "pipeline"
	EventTick     = "tick"
	EventShutdown = "shutdown"

	// Async CLI execution lifecycle events (payload: ExecEventPayload).
	EventExecStarted   = "exec.started"
	EventExecProgress  = "exec.progress"
	EventExecCompleted = "exec.completed"
	EventExecFailed    = "exec.failed"
	EventExecCancelled = "exec.cancelled"

	// Provider health events (payload: provider tag, circuit state, failures).
	EventProviderUp   = "provider.up"
	EventProviderDown = "provider.down"

	// Flow engine handoff (payload: flow id, message id).
	EventFlowTriggered = "flow.triggered"

	// Cache invalidation events (internal, not forwarded to WS clients).
	EventCacheInvalidate = "cache.invalidate"
)

// Pipeline event subtypes (in payload.type)
const (
	PipelineEventGated      = "gated"
	PipelineEventClassified = "classified"
	PipelineEventEnriched   = "enriched"
	PipelineEventRouted     = "routed"
	PipelineEventReplied    = "replied"
)

// EventFrame is the wire frame pushed to WebSocket clients.
type EventFrame struct {
	Type    string `json:"type"` // always "event"
	Name    string `json:"name"`
	AgentID string `json:"agent_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// NewEvent wraps a name and payload in an EventFrame.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: "event", Name: name, Payload: payload}
}

// ExecEventPayload is the payload for exec.* events.
type ExecEventPayload struct {
	TrackingID string `json:"tracking_id"`
	CLIType    string `json:"cli_type"`
	UserID     string `json:"user_id"`
	AgentID    string `json:"agent_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	Files      int    `json:"files,omitempty"`
	StdoutLen  int    `json:"stdout_len,omitempty"`
}
