package store

import (
	"time"

	"github.com/google/uuid"
)

// AutoSendMode controls whether messaging tools may fire without confirmation.
const (
	AutoSendRestricted = "restricted"
	AutoSendOpen       = "open"
)

// AIRouterMode controls how far the intent router goes.
const (
	RouterModeFull         = "full"
	RouterModeClassifyOnly = "classify_only"
	RouterModeDisabled     = "disabled"
)

// UserSettings are per-user tool and enrichment preferences
// (superbrain_settings). Created lazily with defaults; never partially written.
type UserSettings struct {
	UserID                  string   `json:"user_id"`
	AutoSendMode            string   `json:"auto_send_mode"`            // restricted | open
	EnabledTools            []string `json:"enabled_tools"`             // nil = all tools
	ToolConfidenceThreshold float64  `json:"tool_confidence_threshold"` // [0,1]
	AIRouterMode            string   `json:"ai_router_mode"`            // full | classify_only | disabled

	OCREnabled      bool   `json:"ocr_enabled"`
	VisionEnabled   bool   `json:"vision_enabled"`
	DocumentEnabled bool   `json:"document_enabled"`
	VoiceEnabled    bool   `json:"voice_enabled"`
	VoiceLanguage   string `json:"voice_language,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultUserSettings returns the lazily-created defaults for a user.
func DefaultUserSettings(userID string) *UserSettings {
	now := time.Now().UTC()
	return &UserSettings{
		UserID:                  userID,
		AutoSendMode:            AutoSendRestricted,
		EnabledTools:            nil, // all
		ToolConfidenceThreshold: 0.70,
		AIRouterMode:            RouterModeFull,
		OCREnabled:              true,
		VisionEnabled:           true,
		DocumentEnabled:         true,
		VoiceEnabled:            true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// ToolEnabled reports whether a tool id is in the enabled set (nil = all).
func (s *UserSettings) ToolEnabled(toolID string) bool {
	if s.EnabledTools == nil {
		return true
	}
	for _, id := range s.EnabledTools {
		if id == toolID {
			return true
		}
	}
	return false
}

// GatingConfig holds per-user gate switches (message_gating_config).
type GatingConfig struct {
	UserID string `json:"user_id"`

	EchoEnabled      bool `json:"echo_enabled"`
	AllowlistEnabled bool `json:"allowlist_enabled"`
	MentionEnabled   bool `json:"mention_enabled"`
	RateLimitEnabled bool `json:"rate_limit_enabled"`
	ContentEnabled   bool `json:"content_enabled"`

	BotIdentifiers []string `json:"bot_identifiers,omitempty"`
	BotNames       []string `json:"bot_names,omitempty"`

	RateLimitMax    int `json:"rate_limit_max,omitempty"`
	RateLimitWindow int `json:"rate_limit_window_seconds,omitempty"`

	MinLength      int  `json:"min_length,omitempty"`
	BlockMediaOnly bool `json:"block_media_only,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultGatingConfig enables echo and content gates only.
func DefaultGatingConfig(userID string) *GatingConfig {
	return &GatingConfig{
		UserID:          userID,
		EchoEnabled:     true,
		ContentEnabled:  true,
		RateLimitMax:    30,
		RateLimitWindow: 60,
		UpdatedAt:       time.Now().UTC(),
	}
}

// ProviderRecord is a configured model provider row (ai_providers).
type ProviderRecord struct {
	ID        uuid.UUID `json:"id"`
	Tag       string    `json:"tag"`
	Kind      string    `json:"kind"` // local | remote | cli
	BaseURL   string    `json:"base_url,omitempty"`
	APIKeyEnv string    `json:"api_key_env,omitempty"`
	Model     string    `json:"model,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRecord is one provider call's accounting row (ai_usage).
type UsageRecord struct {
	ID               uuid.UUID `json:"id"`
	UserID           string    `json:"user_id,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Tier             string    `json:"tier,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	Success          bool      `json:"success"`
	CreatedAt        time.Time `json:"created_at"`
}

// FailoverConfig is a per-tier ordered provider chain set (ai_failover_config).
// Only one row is active; activating a new row deactivates the previous one
// in the same transaction.
type FailoverConfig struct {
	ID        uuid.UUID           `json:"id"`
	Chains    map[string][]string `json:"chains"` // tier → ordered provider tags
	Active    bool                `json:"active"`
	CreatedAt time.Time           `json:"created_at"`
}

// Execution statuses (async_cli_executions.status).
const (
	ExecRunning    = "running"
	ExecCompleted  = "completed"
	ExecFailed     = "failed"
	ExecCancelled  = "cancelled"
	ExecStaleKilled = "stale_killed"
)

// Delivery statuses (async_cli_executions.delivery_status).
const (
	DeliveryPending    = "pending"
	DeliveryDelivering = "delivering"
	DeliveryDelivered  = "delivered"
	DeliveryFailed     = "failed"
	DeliveryNotNeeded  = "not_needed"
)

// ExecutionRecord is one supervised CLI run (async_cli_executions).
type ExecutionRecord struct {
	TrackingID     string    `json:"tracking_id"` // UUID
	CLIType        string    `json:"cli_type"`
	UserID         string    `json:"user_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	ExternalID     string    `json:"external_id,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	WorkspacePath  string    `json:"workspace_path"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status"`

	StdoutLength int      `json:"stdout_length"`
	OutputFiles  []string `json:"output_files,omitempty"`
	Error        string   `json:"error,omitempty"`

	StaleThresholdMs int64 `json:"stale_threshold_ms"`
	MaxTimeoutMs     int64 `json:"max_timeout_ms"`
}

// WorkspaceRecord is a per-agent sandbox directory (agentic_workspaces).
type WorkspaceRecord struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	AgentID   string     `json:"agent_id"`
	CLIType   string     `json:"cli_type"`
	Path      string     `json:"path"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // soft delete
}

// Flow is an active workflow with its trigger filters (flows).
type Flow struct {
	ID        uuid.UUID   `json:"id"`
	UserID    string      `json:"user_id"`
	Name      string      `json:"name"`
	Active    bool        `json:"active"`
	Trigger   FlowTrigger `json:"trigger"`
	CreatedAt time.Time   `json:"created_at"`
}

// FlowTrigger holds the matching filters evaluated by the trigger matcher.
type FlowTrigger struct {
	Platform string `json:"platform,omitempty"` // exact tag or "any"

	// Message type allow-flags.
	Text     bool `json:"text,omitempty"`
	Image    bool `json:"image,omitempty"`
	Video    bool `json:"video,omitempty"`
	Audio    bool `json:"audio,omitempty"`
	Voice    bool `json:"voice,omitempty"`
	Document bool `json:"document,omitempty"`

	// Content constraints (skipped when PatternType == "any").
	PatternType   string `json:"pattern_type,omitempty"` // any | contains | starts_with | ends_with | regex | exact
	Pattern       string `json:"pattern,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`

	// Sender constraints.
	From         string `json:"from,omitempty"`
	NotFrom      string `json:"not_from,omitempty"`
	SenderFilter string `json:"sender_filter,omitempty"` // comma-separated substrings

	// Group constraints.
	IsGroup     *bool `json:"is_group,omitempty"`
	FromGroups  bool  `json:"from_groups,omitempty"`
	FromPrivate bool  `json:"from_private,omitempty"`
}

// AgentRecord is an auto-respond agent row (agents).
type AgentRecord struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	AutoRespond    bool      `json:"auto_respond"`
	Keywords       []string  `json:"keywords,omitempty"`
	ProcessingMode string    `json:"processing_mode,omitempty"` // "", passive, disabled, flow_only
	SkipSources    []string  `json:"skip_sources,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MediaCacheEntry caches enrichment output by content hash (media_cache).
type MediaCacheEntry struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"` // ocr | vision | document | voice
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryItem is one outbound message enqueued for a platform adapter.
type DeliveryItem struct {
	ID             uuid.UUID      `json:"id"`
	AccountID      string         `json:"account_id"`
	Recipient      string         `json:"recipient"`
	Platform       string         `json:"platform"`
	Content        string         `json:"content"`
	ContentType    string         `json:"content_type,omitempty"`
	Options        map[string]any `json:"options,omitempty"` // media, caption, fileName, mimeType
	Source         string         `json:"source"`
	ConversationID string         `json:"conversation_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
