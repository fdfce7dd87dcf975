package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func jsonStr(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

type settingsStore struct{ db *sql.DB }

func (s *settingsStore) Get(ctx context.Context, userID string) (*store.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, auto_send_mode, enabled_tools, tool_confidence_threshold,
		       ai_router_mode, ocr_enabled, vision_enabled, document_enabled,
		       voice_enabled, voice_language, created_at, updated_at
		FROM superbrain_settings WHERE user_id = ?`, userID)

	var us store.UserSettings
	var tools, voiceLang sql.NullString
	var created, updated int64
	err := row.Scan(&us.UserID, &us.AutoSendMode, &tools, &us.ToolConfidenceThreshold,
		&us.AIRouterMode, &us.OCREnabled, &us.VisionEnabled, &us.DocumentEnabled,
		&us.VoiceEnabled, &voiceLang, &created, &updated)
	if err == sql.ErrNoRows {
		def := store.DefaultUserSettings(userID)
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO superbrain_settings (user_id, auto_send_mode,
				tool_confidence_threshold, ai_router_mode, ocr_enabled, vision_enabled,
				document_enabled, voice_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			def.UserID, def.AutoSendMode, def.ToolConfidenceThreshold, def.AIRouterMode,
			def.OCREnabled, def.VisionEnabled, def.DocumentEnabled, def.VoiceEnabled,
			ms(def.CreatedAt), ms(def.UpdatedAt)); err != nil {
			return nil, fmt.Errorf("create settings: %w", err)
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if tools.Valid && tools.String != "" && tools.String != "null" {
		var list []string
		if json.Unmarshal([]byte(tools.String), &list) == nil {
			us.EnabledTools = list
		}
	}
	us.VoiceLanguage = voiceLang.String
	us.CreatedAt, us.UpdatedAt = fromMS(created), fromMS(updated)
	return &us, nil
}

func (s *settingsStore) Save(ctx context.Context, us *store.UserSettings) error {
	var tools any
	if us.EnabledTools != nil {
		tools = jsonStr(us.EnabledTools)
	}
	now := ms(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO superbrain_settings (user_id, auto_send_mode, enabled_tools,
			tool_confidence_threshold, ai_router_mode, ocr_enabled, vision_enabled,
			document_enabled, voice_enabled, voice_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			auto_send_mode = excluded.auto_send_mode,
			enabled_tools = excluded.enabled_tools,
			tool_confidence_threshold = excluded.tool_confidence_threshold,
			ai_router_mode = excluded.ai_router_mode,
			ocr_enabled = excluded.ocr_enabled,
			vision_enabled = excluded.vision_enabled,
			document_enabled = excluded.document_enabled,
			voice_enabled = excluded.voice_enabled,
			voice_language = excluded.voice_language,
			updated_at = excluded.updated_at`,
		us.UserID, us.AutoSendMode, tools, us.ToolConfidenceThreshold, us.AIRouterMode,
		us.OCREnabled, us.VisionEnabled, us.DocumentEnabled, us.VoiceEnabled,
		us.VoiceLanguage, now, now)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

type gatingStore struct{ db *sql.DB }

func (g *gatingStore) GetConfig(ctx context.Context, userID string) (*store.GatingConfig, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT user_id, echo_enabled, allowlist_enabled, mention_enabled,
		       rate_limit_enabled, content_enabled, bot_identifiers, bot_names,
		       rate_limit_max, rate_limit_window, min_length, block_media_only, updated_at
		FROM message_gating_config WHERE user_id = ?`, userID)
	var c store.GatingConfig
	var ids, names sql.NullString
	var updated int64
	err := row.Scan(&c.UserID, &c.EchoEnabled, &c.AllowlistEnabled, &c.MentionEnabled,
		&c.RateLimitEnabled, &c.ContentEnabled, &ids, &names,
		&c.RateLimitMax, &c.RateLimitWindow, &c.MinLength, &c.BlockMediaOnly, &updated)
	if err == sql.ErrNoRows {
		def := store.DefaultGatingConfig(userID)
		if err := g.SaveConfig(ctx, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load gating config: %w", err)
	}
	if ids.Valid {
		json.Unmarshal([]byte(ids.String), &c.BotIdentifiers)
	}
	if names.Valid {
		json.Unmarshal([]byte(names.String), &c.BotNames)
	}
	c.UpdatedAt = fromMS(updated)
	return &c, nil
}

func (g *gatingStore) SaveConfig(ctx context.Context, c *store.GatingConfig) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO message_gating_config (user_id, echo_enabled, allowlist_enabled,
			mention_enabled, rate_limit_enabled, content_enabled, bot_identifiers,
			bot_names, rate_limit_max, rate_limit_window, min_length, block_media_only,
			updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			echo_enabled = excluded.echo_enabled,
			allowlist_enabled = excluded.allowlist_enabled,
			mention_enabled = excluded.mention_enabled,
			rate_limit_enabled = excluded.rate_limit_enabled,
			content_enabled = excluded.content_enabled,
			bot_identifiers = excluded.bot_identifiers,
			bot_names = excluded.bot_names,
			rate_limit_max = excluded.rate_limit_max,
			rate_limit_window = excluded.rate_limit_window,
			min_length = excluded.min_length,
			block_media_only = excluded.block_media_only,
			updated_at = excluded.updated_at`,
		c.UserID, c.EchoEnabled, c.AllowlistEnabled, c.MentionEnabled,
		c.RateLimitEnabled, c.ContentEnabled, jsonStr(c.BotIdentifiers),
		jsonStr(c.BotNames), c.RateLimitMax, c.RateLimitWindow, c.MinLength,
		c.BlockMediaOnly, ms(time.Now()))
	if err != nil {
		return fmt.Errorf("save gating config: %w", err)
	}
	return nil
}

func (g *gatingStore) AllowlistContains(ctx context.Context, groupID, platform string) (bool, error) {
	var one int
	err := g.db.QueryRowContext(ctx, `
		SELECT 1 FROM message_gating_group_allowlist WHERE group_id = ? AND platform = ?`,
		groupID, platform).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("allowlist lookup: %w", err)
	}
	return true, nil
}

func (g *gatingStore) AllowGroup(ctx context.Context, groupID, platform string) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_gating_group_allowlist (group_id, platform) VALUES (?, ?)`,
		groupID, platform)
	return err
}

type providerStore struct{ db *sql.DB }

func (p *providerStore) ListEnabled(ctx context.Context) ([]store.ProviderRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tag, kind, base_url, api_key_env, model, enabled, created_at
		FROM ai_providers WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	var out []store.ProviderRecord
	for rows.Next() {
		var r store.ProviderRecord
		var id string
		var baseURL, keyEnv, model sql.NullString
		var created int64
		if err := rows.Scan(&id, &r.Tag, &r.Kind, &baseURL, &keyEnv, &model, &r.Enabled, &created); err != nil {
			return nil, err
		}
		r.ID, _ = uuid.Parse(id)
		r.BaseURL, r.APIKeyEnv, r.Model = baseURL.String, keyEnv.String, model.String
		r.CreatedAt = fromMS(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *providerStore) Upsert(ctx context.Context, r *store.ProviderRecord) error {
	if r.ID == uuid.Nil {
		r.ID = bus.GenID()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ai_providers (id, tag, kind, base_url, api_key_env, model, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tag) DO UPDATE SET
			kind = excluded.kind, base_url = excluded.base_url,
			api_key_env = excluded.api_key_env, model = excluded.model,
			enabled = excluded.enabled`,
		r.ID.String(), r.Tag, r.Kind, r.BaseURL, r.APIKeyEnv, r.Model, r.Enabled, ms(time.Now()))
	return err
}

type usageStore struct{ db *sql.DB }

func (u *usageStore) Record(ctx context.Context, r *store.UsageRecord) error {
	if r.ID == uuid.Nil {
		r.ID = bus.GenID()
	}
	_, err := u.db.ExecContext(ctx, `
		INSERT INTO ai_usage (id, user_id, provider, model, tier, prompt_tokens,
			completion_tokens, latency_ms, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID, r.Provider, r.Model, r.Tier,
		r.PromptTokens, r.CompletionTokens, r.LatencyMs, r.Success, ms(time.Now()))
	return err
}

type failoverStore struct{ db *sql.DB }

func (f *failoverStore) Active(ctx context.Context) (*store.FailoverConfig, error) {
	row := f.db.QueryRowContext(ctx, `
		SELECT id, chains, active, created_at FROM ai_failover_config WHERE active LIMIT 1`)
	var id, chains string
	var fc store.FailoverConfig
	var created int64
	err := row.Scan(&id, &chains, &fc.Active, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load failover config: %w", err)
	}
	fc.ID, _ = uuid.Parse(id)
	fc.CreatedAt = fromMS(created)
	if err := json.Unmarshal([]byte(chains), &fc.Chains); err != nil {
		return nil, fmt.Errorf("parse failover chains: %w", err)
	}
	return &fc, nil
}

func (f *failoverStore) Activate(ctx context.Context, chains map[string][]string) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE ai_failover_config SET active = 0 WHERE active`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ai_failover_config (id, chains, active, created_at) VALUES (?, ?, 1, ?)`,
		bus.GenID().String(), jsonStr(chains), ms(time.Now())); err != nil {
		return err
	}
	return tx.Commit()
}

type execStore struct{ db *sql.DB }

func (e *execStore) Insert(ctx context.Context, r *store.ExecutionRecord) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO async_cli_executions (tracking_id, cli_type, user_id, agent_id,
			conversation_id, account_id, external_id, platform, workspace_path,
			started_at, last_activity_at, status, delivery_status, stdout_length,
			output_files, error, stale_threshold_ms, max_timeout_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TrackingID, r.CLIType, r.UserID, r.AgentID, r.ConversationID, r.AccountID,
		r.ExternalID, r.Platform, r.WorkspacePath, ms(r.StartedAt), ms(r.LastActivityAt),
		r.Status, r.DeliveryStatus, r.StdoutLength, jsonStr(r.OutputFiles), r.Error,
		r.StaleThresholdMs, r.MaxTimeoutMs)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (e *execStore) Get(ctx context.Context, trackingID string) (*store.ExecutionRecord, error) {
	row := e.db.QueryRowContext(ctx, `
		SELECT tracking_id, cli_type, user_id, agent_id, conversation_id, account_id,
		       external_id, platform, workspace_path, started_at, last_activity_at,
		       completed_at, status, delivery_status, stdout_length, output_files,
		       error, stale_threshold_ms, max_timeout_ms
		FROM async_cli_executions WHERE tracking_id = ?`, trackingID)
	rec, err := scanExec(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (e *execStore) UpdateActivity(ctx context.Context, trackingID string, at time.Time) error {
	_, err := e.db.ExecContext(ctx,
		`UPDATE async_cli_executions SET last_activity_at = ? WHERE tracking_id = ?`,
		ms(at), trackingID)
	return err
}

func (e *execStore) Finish(ctx context.Context, trackingID, status string, stdoutLen int, files []string, errStr string) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE async_cli_executions
		SET status = ?, stdout_length = ?, output_files = ?, error = ?, completed_at = ?
		WHERE tracking_id = ?`,
		status, stdoutLen, jsonStr(files), errStr, ms(time.Now()), trackingID)
	return err
}

func (e *execStore) SetDeliveryStatus(ctx context.Context, trackingID, ds string) error {
	_, err := e.db.ExecContext(ctx,
		`UPDATE async_cli_executions SET delivery_status = ? WHERE tracking_id = ?`,
		ds, trackingID)
	return err
}

func (e *execStore) CountRunning(ctx context.Context, userID string) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM async_cli_executions WHERE user_id = ? AND status = 'running'`,
		userID).Scan(&n)
	return n, err
}

func (e *execStore) MarkInterrupted(ctx context.Context, reason string) ([]store.ExecutionRecord, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT tracking_id, cli_type, user_id, agent_id, conversation_id, account_id,
		       external_id, platform, workspace_path, started_at, last_activity_at,
		       completed_at, status, delivery_status, stdout_length, output_files,
		       error, stale_threshold_ms, max_timeout_ms
		FROM async_cli_executions WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	var out []store.ExecutionRecord
	for rows.Next() {
		rec, err := scanExec(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := e.db.ExecContext(ctx, `
		UPDATE async_cli_executions
		SET status = 'failed', error = ?, completed_at = ?
		WHERE status = 'running'`, reason, ms(time.Now())); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Status = store.ExecFailed
		out[i].Error = reason
	}
	return out, nil
}

type sqlScanner interface{ Scan(dest ...any) error }

func scanExec(row sqlScanner) (*store.ExecutionRecord, error) {
	var r store.ExecutionRecord
	var agentID, convID, acctID, extID, platform, files, errStr sql.NullString
	var started, lastActivity int64
	var completed sql.NullInt64
	err := row.Scan(&r.TrackingID, &r.CLIType, &r.UserID, &agentID, &convID, &acctID,
		&extID, &platform, &r.WorkspacePath, &started, &lastActivity, &completed,
		&r.Status, &r.DeliveryStatus, &r.StdoutLength, &files, &errStr,
		&r.StaleThresholdMs, &r.MaxTimeoutMs)
	if err != nil {
		return nil, err
	}
	r.AgentID, r.ConversationID, r.AccountID = agentID.String, convID.String, acctID.String
	r.ExternalID, r.Platform, r.Error = extID.String, platform.String, errStr.String
	r.StartedAt, r.LastActivityAt = fromMS(started), fromMS(lastActivity)
	if completed.Valid {
		t := fromMS(completed.Int64)
		r.CompletedAt = &t
	}
	if files.Valid && files.String != "" && files.String != "null" {
		json.Unmarshal([]byte(files.String), &r.OutputFiles)
	}
	return &r, nil
}

type workspaceStore struct{ db *sql.DB }

func (w *workspaceStore) Insert(ctx context.Context, r *store.WorkspaceRecord) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO agentic_workspaces (id, user_id, agent_id, cli_type, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID, r.AgentID, r.CLIType, r.Path, ms(r.CreatedAt))
	return err
}

func (w *workspaceStore) Get(ctx context.Context, userID, agentID string) (*store.WorkspaceRecord, error) {
	row := w.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, cli_type, path, created_at, deleted_at
		FROM agentic_workspaces
		WHERE user_id = ? AND agent_id = ? AND deleted_at IS NULL`, userID, agentID)
	rec, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (w *workspaceStore) List(ctx context.Context, userID string) ([]store.WorkspaceRecord, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, cli_type, path, created_at, deleted_at
		FROM agentic_workspaces WHERE user_id = ? AND deleted_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkspaces(rows)
}

func (w *workspaceStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE agentic_workspaces SET deleted_at = ? WHERE id = ?`, ms(at), id.String())
	return err
}

func (w *workspaceStore) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]store.WorkspaceRecord, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, cli_type, path, created_at, deleted_at
		FROM agentic_workspaces WHERE deleted_at IS NOT NULL AND deleted_at < ?`, ms(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkspaces(rows)
}

func (w *workspaceStore) HardDelete(ctx context.Context, id uuid.UUID) error {
	_, err := w.db.ExecContext(ctx, `DELETE FROM agentic_workspaces WHERE id = ?`, id.String())
	return err
}

func scanWorkspace(row sqlScanner) (*store.WorkspaceRecord, error) {
	var r store.WorkspaceRecord
	var id string
	var created int64
	var deleted sql.NullInt64
	err := row.Scan(&id, &r.UserID, &r.AgentID, &r.CLIType, &r.Path, &created, &deleted)
	if err != nil {
		return nil, err
	}
	r.ID, _ = uuid.Parse(id)
	r.CreatedAt = fromMS(created)
	if deleted.Valid {
		t := fromMS(deleted.Int64)
		r.DeletedAt = &t
	}
	return &r, nil
}

func collectWorkspaces(rows *sql.Rows) ([]store.WorkspaceRecord, error) {
	var out []store.WorkspaceRecord
	for rows.Next() {
		r, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type flowStore struct{ db *sql.DB }

func (f *flowStore) ListActive(ctx context.Context, userID string) ([]store.Flow, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT id, user_id, name, active, trigger, created_at
		FROM flows WHERE active AND user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Flow
	for rows.Next() {
		var fl store.Flow
		var id, trigger string
		var created int64
		if err := rows.Scan(&id, &fl.UserID, &fl.Name, &fl.Active, &trigger, &created); err != nil {
			return nil, err
		}
		fl.ID, _ = uuid.Parse(id)
		fl.CreatedAt = fromMS(created)
		if err := json.Unmarshal([]byte(trigger), &fl.Trigger); err != nil {
			return nil, fmt.Errorf("parse flow trigger %s: %w", id, err)
		}
		out = append(out, fl)
	}
	return out, rows.Err()
}

func (f *flowStore) Insert(ctx context.Context, fl *store.Flow) error {
	if fl.ID == uuid.Nil {
		fl.ID = bus.GenID()
	}
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO flows (id, user_id, name, active, trigger, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fl.ID.String(), fl.UserID, fl.Name, fl.Active, jsonStr(fl.Trigger), ms(time.Now()))
	return err
}

type agentStore struct{ db *sql.DB }

func (a *agentStore) ListAutoRespond(ctx context.Context, userID string) ([]store.AgentRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, user_id, name, auto_respond, keywords, processing_mode, skip_sources, created_at
		FROM agents WHERE auto_respond AND user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (a *agentStore) Get(ctx context.Context, id uuid.UUID) (*store.AgentRecord, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, auto_respond, keywords, processing_mode, skip_sources, created_at
		FROM agents WHERE id = ?`, id.String())
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (a *agentStore) Insert(ctx context.Context, rec *store.AgentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = bus.GenID()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, name, auto_respond, keywords, processing_mode, skip_sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID, rec.Name, rec.AutoRespond, jsonStr(rec.Keywords),
		rec.ProcessingMode, jsonStr(rec.SkipSources), ms(time.Now()))
	return err
}

func scanAgent(row sqlScanner) (*store.AgentRecord, error) {
	var r store.AgentRecord
	var id string
	var keywords, mode, skip sql.NullString
	var created int64
	err := row.Scan(&id, &r.UserID, &r.Name, &r.AutoRespond, &keywords, &mode, &skip, &created)
	if err != nil {
		return nil, err
	}
	r.ID, _ = uuid.Parse(id)
	r.ProcessingMode = mode.String
	r.CreatedAt = fromMS(created)
	if keywords.Valid {
		json.Unmarshal([]byte(keywords.String), &r.Keywords)
	}
	if skip.Valid {
		json.Unmarshal([]byte(skip.String), &r.SkipSources)
	}
	return &r, nil
}

type messageStore struct{ db *sql.DB }

func (m *messageStore) SaveAnalysis(ctx context.Context, messageID, content string, analysis map[string]any) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, analysis, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content, analysis = excluded.analysis,
			updated_at = excluded.updated_at`,
		messageID, content, jsonStr(analysis), ms(time.Now()))
	return err
}

type mediaCacheStore struct{ db *sql.DB }

func (c *mediaCacheStore) Get(ctx context.Context, hash, kind string) (*store.MediaCacheEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT hash, kind, text, created_at FROM media_cache WHERE hash = ? AND kind = ?`,
		hash, kind)
	var e store.MediaCacheEntry
	var created int64
	err := row.Scan(&e.Hash, &e.Kind, &e.Text, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt = fromMS(created)
	return &e, nil
}

func (c *mediaCacheStore) Put(ctx context.Context, e *store.MediaCacheEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO media_cache (hash, kind, text, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (hash, kind) DO UPDATE SET text = excluded.text`,
		e.Hash, e.Kind, e.Text, ms(time.Now()))
	return err
}

type deliveryStore struct{ db *sql.DB }

func (d *deliveryStore) Enqueue(ctx context.Context, item *store.DeliveryItem) error {
	if item.ID == uuid.Nil {
		item.ID = bus.GenID()
	}
	var opts any
	if item.Options != nil {
		opts = jsonStr(item.Options)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO delivery_queue (id, account_id, recipient, platform, content,
			content_type, options, source, conversation_id, agent_id, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID.String(), item.AccountID, item.Recipient, item.Platform, item.Content,
		item.ContentType, opts, item.Source, item.ConversationID, item.AgentID,
		item.UserID, ms(time.Now()))
	return err
}
