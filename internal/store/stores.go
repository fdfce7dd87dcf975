package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SettingsStore manages per-user tool settings (superbrain_settings).
// Get creates the row lazily with defaults; it never returns a partial record.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*UserSettings, error)
	Save(ctx context.Context, s *UserSettings) error
}

// GatingStore manages gate configuration and the group allowlist.
type GatingStore interface {
	GetConfig(ctx context.Context, userID string) (*GatingConfig, error)
	SaveConfig(ctx context.Context, c *GatingConfig) error
	// AllowlistContains reports whether (groupID, platform) is allowlisted.
	AllowlistContains(ctx context.Context, groupID, platform string) (bool, error)
	AllowGroup(ctx context.Context, groupID, platform string) error
}

// ProviderStore manages configured model providers (ai_providers).
type ProviderStore interface {
	ListEnabled(ctx context.Context) ([]ProviderRecord, error)
	Upsert(ctx context.Context, p *ProviderRecord) error
}

// UsageStore records provider call accounting (ai_usage).
type UsageStore interface {
	Record(ctx context.Context, u *UsageRecord) error
}

// FailoverStore manages tiered provider chains (ai_failover_config).
// Activate writes the new row and deactivates the previous active row
// atomically.
type FailoverStore interface {
	Active(ctx context.Context) (*FailoverConfig, error)
	Activate(ctx context.Context, chains map[string][]string) error
}

// ExecStore persists async CLI executions (async_cli_executions).
type ExecStore interface {
	Insert(ctx context.Context, e *ExecutionRecord) error
	Get(ctx context.Context, trackingID string) (*ExecutionRecord, error)
	UpdateActivity(ctx context.Context, trackingID string, at time.Time) error
	// Finish sets status, stdout length, output files and error in one write.
	Finish(ctx context.Context, trackingID, status string, stdoutLen int, files []string, errStr string) error
	SetDeliveryStatus(ctx context.Context, trackingID, deliveryStatus string) error
	CountRunning(ctx context.Context, userID string) (int, error)
	// MarkInterrupted flips every running row to failed. Returns affected rows.
	// Called once at manager startup (crash recovery).
	MarkInterrupted(ctx context.Context, reason string) ([]ExecutionRecord, error)
}

// WorkspaceStore persists workspace metadata (agentic_workspaces).
type WorkspaceStore interface {
	Insert(ctx context.Context, w *WorkspaceRecord) error
	Get(ctx context.Context, userID, agentID string) (*WorkspaceRecord, error)
	List(ctx context.Context, userID string) ([]WorkspaceRecord, error)
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]WorkspaceRecord, error)
	HardDelete(ctx context.Context, id uuid.UUID) error
}

// FlowStore lists active flows for trigger matching (flows).
type FlowStore interface {
	ListActive(ctx context.Context, userID string) ([]Flow, error)
	Insert(ctx context.Context, f *Flow) error
}

// AgentStore lists agents for swarm matching and config overrides (agents).
type AgentStore interface {
	ListAutoRespond(ctx context.Context, userID string) ([]AgentRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*AgentRecord, error)
	Insert(ctx context.Context, a *AgentRecord) error
}

// MessageStore persists enriched message content (messages).
// SaveAnalysis writes content and analysis metadata atomically.
type MessageStore interface {
	SaveAnalysis(ctx context.Context, messageID, content string, analysis map[string]any) error
}

// MediaCacheStore caches enrichment results by content hash (media_cache).
type MediaCacheStore interface {
	Get(ctx context.Context, hash, kind string) (*MediaCacheEntry, error)
	Put(ctx context.Context, e *MediaCacheEntry) error
}

// DeliveryStore is the durable outbound queue (delivery collaborator contract).
type DeliveryStore interface {
	Enqueue(ctx context.Context, item *DeliveryItem) error
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Settings   SettingsStore
	Gating     GatingStore
	Providers  ProviderStore
	Usage      UsageStore
	Failover   FailoverStore
	Executions ExecStore
	Workspaces WorkspaceStore
	Flows      FlowStore
	Agents     AgentStore
	Messages   MessageStore
	MediaCache MediaCacheStore
	Delivery   DeliveryStore
}

// StoreConfig selects and parameterizes a backend.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}
