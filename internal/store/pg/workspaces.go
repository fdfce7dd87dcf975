package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// PGWorkspaceStore implements store.WorkspaceStore backed by Postgres.
type PGWorkspaceStore struct {
	db *sql.DB
}

func NewPGWorkspaceStore(db *sql.DB) *PGWorkspaceStore {
	return &PGWorkspaceStore{db: db}
}

func (s *PGWorkspaceStore) Insert(ctx context.Context, w *store.WorkspaceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agentic_workspaces (id, user_id, agent_id, cli_type, path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.UserID, w.AgentID, w.CLIType, w.Path, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PGWorkspaceStore) Get(ctx context.Context, userID, agentID string) (*store.WorkspaceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, cli_type, path, created_at, deleted_at
		FROM agentic_workspaces
		WHERE user_id = $1 AND agent_id = $2 AND deleted_at IS NULL`, userID, agentID)
	w, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return w, nil
}

func (s *PGWorkspaceStore) List(ctx context.Context, userID string) ([]store.WorkspaceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, cli_type, path, created_at, deleted_at
		FROM agentic_workspaces
		WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()
	return collectWorkspaces(rows)
}

func (s *PGWorkspaceStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agentic_workspaces SET deleted_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete workspace: %w", err)
	}
	return nil
}

func (s *PGWorkspaceStore) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]store.WorkspaceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, cli_type, path, created_at, deleted_at
		FROM agentic_workspaces
		WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list deleted workspaces: %w", err)
	}
	defer rows.Close()
	return collectWorkspaces(rows)
}

func (s *PGWorkspaceStore) HardDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agentic_workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("hard delete workspace: %w", err)
	}
	return nil
}

func scanWorkspace(row rowScanner) (*store.WorkspaceRecord, error) {
	var w store.WorkspaceRecord
	var deleted sql.NullTime
	err := row.Scan(&w.ID, &w.UserID, &w.AgentID, &w.CLIType, &w.Path, &w.CreatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		w.DeletedAt = &t
	}
	return &w, nil
}

func collectWorkspaces(rows *sql.Rows) ([]store.WorkspaceRecord, error) {
	var out []store.WorkspaceRecord
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
