package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// PGProviderStore implements store.ProviderStore backed by Postgres.
type PGProviderStore struct {
	db *sql.DB
}

func NewPGProviderStore(db *sql.DB) *PGProviderStore {
	return &PGProviderStore{db: db}
}

func (s *PGProviderStore) ListEnabled(ctx context.Context) ([]store.ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, kind, base_url, api_key_env, model, enabled, created_at
		FROM ai_providers WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []store.ProviderRecord
	for rows.Next() {
		var p store.ProviderRecord
		var baseURL, keyEnv, model sql.NullString
		if err := rows.Scan(&p.ID, &p.Tag, &p.Kind, &baseURL, &keyEnv, &model, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		p.BaseURL = baseURL.String
		p.APIKeyEnv = keyEnv.String
		p.Model = model.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGProviderStore) Upsert(ctx context.Context, p *store.ProviderRecord) error {
	if p.ID == uuid.Nil {
		p.ID = bus.GenID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_providers (id, tag, kind, base_url, api_key_env, model, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tag) DO UPDATE SET
			kind = EXCLUDED.kind,
			base_url = EXCLUDED.base_url,
			api_key_env = EXCLUDED.api_key_env,
			model = EXCLUDED.model,
			enabled = EXCLUDED.enabled`,
		p.ID, p.Tag, p.Kind, nullStr(p.BaseURL), nullStr(p.APIKeyEnv), nullStr(p.Model), p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

// PGUsageStore implements store.UsageStore backed by Postgres.
type PGUsageStore struct {
	db *sql.DB
}

func NewPGUsageStore(db *sql.DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) Record(ctx context.Context, u *store.UsageRecord) error {
	if u.ID == uuid.Nil {
		u.ID = bus.GenID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_usage (id, user_id, provider, model, tier, prompt_tokens,
			completion_tokens, latency_ms, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, nullStr(u.UserID), u.Provider, u.Model, nullStr(u.Tier),
		u.PromptTokens, u.CompletionTokens, u.LatencyMs, u.Success,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// PGFailoverStore implements store.FailoverStore backed by Postgres.
type PGFailoverStore struct {
	db *sql.DB
}

func NewPGFailoverStore(db *sql.DB) *PGFailoverStore {
	return &PGFailoverStore{db: db}
}

func (s *PGFailoverStore) Active(ctx context.Context) (*store.FailoverConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chains, active, created_at FROM ai_failover_config WHERE active`)
	var fc store.FailoverConfig
	var chains []byte
	err := row.Scan(&fc.ID, &chains, &fc.Active, &fc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load failover config: %w", err)
	}
	if err := json.Unmarshal(chains, &fc.Chains); err != nil {
		return nil, fmt.Errorf("parse failover chains: %w", err)
	}
	return &fc, nil
}

// Activate writes a new active row and deactivates the previous one in the
// same transaction, so readers always see exactly one active config.
func (s *PGFailoverStore) Activate(ctx context.Context, chains map[string][]string) error {
	b, err := json.Marshal(chains)
	if err != nil {
		return fmt.Errorf("marshal chains: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE ai_failover_config SET active = FALSE WHERE active`); err != nil {
		return fmt.Errorf("deactivate previous: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ai_failover_config (id, chains, active) VALUES ($1, $2, TRUE)`,
		bus.GenID(), b); err != nil {
		return fmt.Errorf("insert failover config: %w", err)
	}
	return tx.Commit()
}
