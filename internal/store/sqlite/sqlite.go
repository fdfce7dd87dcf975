// Package sqlite provides the standalone-mode storage backend.
//
// It mirrors the Postgres stores with a single-file database so the
// orchestrator runs without external infrastructure. Timestamps are stored
// as unix milliseconds.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS superbrain_settings (
    user_id TEXT PRIMARY KEY,
    auto_send_mode TEXT NOT NULL DEFAULT 'restricted',
    enabled_tools TEXT,
    tool_confidence_threshold REAL NOT NULL DEFAULT 0.70,
    ai_router_mode TEXT NOT NULL DEFAULT 'full',
    ocr_enabled INTEGER NOT NULL DEFAULT 1,
    vision_enabled INTEGER NOT NULL DEFAULT 1,
    document_enabled INTEGER NOT NULL DEFAULT 1,
    voice_enabled INTEGER NOT NULL DEFAULT 1,
    voice_language TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS message_gating_config (
    user_id TEXT PRIMARY KEY,
    echo_enabled INTEGER NOT NULL DEFAULT 1,
    allowlist_enabled INTEGER NOT NULL DEFAULT 0,
    mention_enabled INTEGER NOT NULL DEFAULT 0,
    rate_limit_enabled INTEGER NOT NULL DEFAULT 0,
    content_enabled INTEGER NOT NULL DEFAULT 1,
    bot_identifiers TEXT,
    bot_names TEXT,
    rate_limit_max INTEGER NOT NULL DEFAULT 30,
    rate_limit_window INTEGER NOT NULL DEFAULT 60,
    min_length INTEGER NOT NULL DEFAULT 0,
    block_media_only INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS message_gating_group_allowlist (
    group_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    PRIMARY KEY (group_id, platform)
);
CREATE TABLE IF NOT EXISTS ai_providers (
    id TEXT PRIMARY KEY,
    tag TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    base_url TEXT,
    api_key_env TEXT,
    model TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ai_usage (
    id TEXT PRIMARY KEY,
    user_id TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    tier TEXT,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ai_failover_config (
    id TEXT PRIMARY KEY,
    chains TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS async_cli_executions (
    tracking_id TEXT PRIMARY KEY,
    cli_type TEXT NOT NULL,
    user_id TEXT NOT NULL,
    agent_id TEXT,
    conversation_id TEXT,
    account_id TEXT,
    external_id TEXT,
    platform TEXT,
    workspace_path TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    last_activity_at INTEGER NOT NULL,
    completed_at INTEGER,
    status TEXT NOT NULL DEFAULT 'running',
    delivery_status TEXT NOT NULL DEFAULT 'pending',
    stdout_length INTEGER NOT NULL DEFAULT 0,
    output_files TEXT,
    error TEXT,
    stale_threshold_ms INTEGER NOT NULL,
    max_timeout_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exec_user_status ON async_cli_executions (user_id, status);
CREATE TABLE IF NOT EXISTS agentic_workspaces (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    cli_type TEXT NOT NULL,
    path TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    deleted_at INTEGER
);
CREATE TABLE IF NOT EXISTS flows (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    trigger TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    auto_respond INTEGER NOT NULL DEFAULT 0,
    keywords TEXT,
    processing_mode TEXT,
    skip_sources TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    content TEXT,
    analysis TEXT,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS media_cache (
    hash TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (hash, kind)
);
CREATE TABLE IF NOT EXISTS delivery_queue (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    recipient TEXT NOT NULL,
    platform TEXT NOT NULL,
    content TEXT NOT NULL,
    content_type TEXT,
    options TEXT,
    source TEXT NOT NULL,
    conversation_id TEXT,
    agent_id TEXT,
    user_id TEXT,
    created_at INTEGER NOT NULL
);
`

// Open opens (and initializes) the standalone SQLite database.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStores creates all stores backed by a single SQLite file.
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Settings:   &settingsStore{db},
		Gating:     &gatingStore{db},
		Providers:  &providerStore{db},
		Usage:      &usageStore{db},
		Failover:   &failoverStore{db},
		Executions: &execStore{db},
		Workspaces: &workspaceStore{db},
		Flows:      &flowStore{db},
		Agents:     &agentStore{db},
		Messages:   &messageStore{db},
		MediaCache: &mediaCacheStore{db},
		Delivery:   &deliveryStore{db},
	}, nil
}
