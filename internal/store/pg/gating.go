package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// PGGatingStore implements store.GatingStore backed by Postgres.
type PGGatingStore struct {
	db *sql.DB
}

func NewPGGatingStore(db *sql.DB) *PGGatingStore {
	return &PGGatingStore{db: db}
}

func (s *PGGatingStore) GetConfig(ctx context.Context, userID string) (*store.GatingConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, echo_enabled, allowlist_enabled, mention_enabled,
		       rate_limit_enabled, content_enabled, bot_identifiers, bot_names,
		       rate_limit_max, rate_limit_window, min_length, block_media_only, updated_at
		FROM message_gating_config WHERE user_id = $1`, userID)

	var c store.GatingConfig
	var ids, names []byte
	err := row.Scan(&c.UserID, &c.EchoEnabled, &c.AllowlistEnabled, &c.MentionEnabled,
		&c.RateLimitEnabled, &c.ContentEnabled, &ids, &names,
		&c.RateLimitMax, &c.RateLimitWindow, &c.MinLength, &c.BlockMediaOnly, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		def := store.DefaultGatingConfig(userID)
		if err := s.SaveConfig(ctx, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load gating config: %w", err)
	}
	if len(ids) > 0 {
		json.Unmarshal(ids, &c.BotIdentifiers)
	}
	if len(names) > 0 {
		json.Unmarshal(names, &c.BotNames)
	}
	return &c, nil
}

func (s *PGGatingStore) SaveConfig(ctx context.Context, c *store.GatingConfig) error {
	ids, _ := json.Marshal(c.BotIdentifiers)
	names, _ := json.Marshal(c.BotNames)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_gating_config (user_id, echo_enabled, allowlist_enabled,
			mention_enabled, rate_limit_enabled, content_enabled, bot_identifiers,
			bot_names, rate_limit_max, rate_limit_window, min_length, block_media_only,
			updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (user_id) DO UPDATE SET
			echo_enabled = EXCLUDED.echo_enabled,
			allowlist_enabled = EXCLUDED.allowlist_enabled,
			mention_enabled = EXCLUDED.mention_enabled,
			rate_limit_enabled = EXCLUDED.rate_limit_enabled,
			content_enabled = EXCLUDED.content_enabled,
			bot_identifiers = EXCLUDED.bot_identifiers,
			bot_names = EXCLUDED.bot_names,
			rate_limit_max = EXCLUDED.rate_limit_max,
			rate_limit_window = EXCLUDED.rate_limit_window,
			min_length = EXCLUDED.min_length,
			block_media_only = EXCLUDED.block_media_only,
			updated_at = now()`,
		c.UserID, c.EchoEnabled, c.AllowlistEnabled, c.MentionEnabled,
		c.RateLimitEnabled, c.ContentEnabled, ids, names,
		c.RateLimitMax, c.RateLimitWindow, c.MinLength, c.BlockMediaOnly,
	)
	if err != nil {
		return fmt.Errorf("save gating config: %w", err)
	}
	return nil
}

func (s *PGGatingStore) AllowlistContains(ctx context.Context, groupID, platform string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM message_gating_group_allowlist
		WHERE group_id = $1 AND platform = $2`, groupID, platform).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("allowlist lookup: %w", err)
	}
	return true, nil
}

func (s *PGGatingStore) AllowGroup(ctx context.Context, groupID, platform string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_gating_group_allowlist (group_id, platform)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, platform)
	if err != nil {
		return fmt.Errorf("allow group: %w", err)
	}
	return nil
}
