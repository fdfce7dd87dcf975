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

// PGFlowStore implements store.FlowStore backed by Postgres.
type PGFlowStore struct {
	db *sql.DB
}

func NewPGFlowStore(db *sql.DB) *PGFlowStore {
	return &PGFlowStore{db: db}
}

func (s *PGFlowStore) ListActive(ctx context.Context, userID string) ([]store.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, active, trigger, created_at
		FROM flows WHERE active AND user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var out []store.Flow
	for rows.Next() {
		var f store.Flow
		var trigger []byte
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.Active, &trigger, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		if err := json.Unmarshal(trigger, &f.Trigger); err != nil {
			return nil, fmt.Errorf("parse flow trigger %s: %w", f.ID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PGFlowStore) Insert(ctx context.Context, f *store.Flow) error {
	if f.ID == uuid.Nil {
		f.ID = bus.GenID()
	}
	trigger, err := json.Marshal(f.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, user_id, name, active, trigger) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.UserID, f.Name, f.Active, trigger)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

func (s *PGAgentStore) ListAutoRespond(ctx context.Context, userID string) ([]store.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, auto_respond, keywords, processing_mode, skip_sources, created_at
		FROM agents WHERE auto_respond AND user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []store.AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PGAgentStore) Get(ctx context.Context, id uuid.UUID) (*store.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, auto_respond, keywords, processing_mode, skip_sources, created_at
		FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return a, nil
}

func (s *PGAgentStore) Insert(ctx context.Context, a *store.AgentRecord) error {
	if a.ID == uuid.Nil {
		a.ID = bus.GenID()
	}
	keywords, _ := json.Marshal(a.Keywords)
	skip, _ := json.Marshal(a.SkipSources)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, name, auto_respond, keywords, processing_mode, skip_sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Name, a.AutoRespond, keywords, nullStr(a.ProcessingMode), skip)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (*store.AgentRecord, error) {
	var a store.AgentRecord
	var keywords, skip []byte
	var mode sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.AutoRespond, &keywords, &mode, &skip, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.ProcessingMode = mode.String
	if len(keywords) > 0 {
		json.Unmarshal(keywords, &a.Keywords)
	}
	if len(skip) > 0 {
		json.Unmarshal(skip, &a.SkipSources)
	}
	return &a, nil
}
