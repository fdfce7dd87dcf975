package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// PGExecStore implements store.ExecStore backed by Postgres.
// The DB is the source of truth for crash recovery; the execution manager
// keeps its own in-memory table for live supervision.
type PGExecStore struct {
	db *sql.DB
}

func NewPGExecStore(db *sql.DB) *PGExecStore {
	return &PGExecStore{db: db}
}

func (s *PGExecStore) Insert(ctx context.Context, e *store.ExecutionRecord) error {
	files, _ := json.Marshal(e.OutputFiles)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO async_cli_executions (tracking_id, cli_type, user_id, agent_id,
			conversation_id, account_id, external_id, platform, workspace_path,
			started_at, last_activity_at, status, delivery_status, stdout_length,
			output_files, error, stale_threshold_ms, max_timeout_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.TrackingID, e.CLIType, e.UserID, nullStr(e.AgentID), nullStr(e.ConversationID),
		nullStr(e.AccountID), nullStr(e.ExternalID), nullStr(e.Platform), e.WorkspacePath,
		e.StartedAt, e.LastActivityAt, e.Status, e.DeliveryStatus, e.StdoutLength,
		files, nullStr(e.Error), e.StaleThresholdMs, e.MaxTimeoutMs,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *PGExecStore) Get(ctx context.Context, trackingID string) (*store.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tracking_id, cli_type, user_id, agent_id, conversation_id, account_id,
		       external_id, platform, workspace_path, started_at, last_activity_at,
		       completed_at, status, delivery_status, stdout_length, output_files,
		       error, stale_threshold_ms, max_timeout_ms
		FROM async_cli_executions WHERE tracking_id = $1`, trackingID)
	e, err := scanExec(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	return e, nil
}

func (s *PGExecStore) UpdateActivity(ctx context.Context, trackingID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE async_cli_executions SET last_activity_at = $2 WHERE tracking_id = $1`,
		trackingID, at)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return nil
}

func (s *PGExecStore) Finish(ctx context.Context, trackingID, status string, stdoutLen int, files []string, errStr string) error {
	filesJSON, _ := json.Marshal(files)
	_, err := s.db.ExecContext(ctx, `
		UPDATE async_cli_executions
		SET status = $2, stdout_length = $3, output_files = $4, error = $5,
		    completed_at = now()
		WHERE tracking_id = $1`,
		trackingID, status, stdoutLen, filesJSON, nullStr(errStr),
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	return nil
}

func (s *PGExecStore) SetDeliveryStatus(ctx context.Context, trackingID, ds string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE async_cli_executions SET delivery_status = $2 WHERE tracking_id = $1`,
		trackingID, ds)
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	return nil
}

func (s *PGExecStore) CountRunning(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM async_cli_executions
		WHERE user_id = $1 AND status = 'running'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running: %w", err)
	}
	return n, nil
}

// MarkInterrupted flips every running row to failed and returns them so the
// manager can notify owners. Called once at startup.
func (s *PGExecStore) MarkInterrupted(ctx context.Context, reason string) ([]store.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE async_cli_executions
		SET status = 'failed', error = $1, completed_at = now()
		WHERE status = 'running'
		RETURNING tracking_id, cli_type, user_id, agent_id, conversation_id, account_id,
		          external_id, platform, workspace_path, started_at, last_activity_at,
		          completed_at, status, delivery_status, stdout_length, output_files,
		          error, stale_threshold_ms, max_timeout_ms`, reason)
	if err != nil {
		return nil, fmt.Errorf("mark interrupted: %w", err)
	}
	defer rows.Close()

	var out []store.ExecutionRecord
	for rows.Next() {
		e, err := scanExec(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interrupted: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExec(row rowScanner) (*store.ExecutionRecord, error) {
	var e store.ExecutionRecord
	var agentID, convID, acctID, extID, platform, errStr sql.NullString
	var completed sql.NullTime
	var files []byte
	err := row.Scan(&e.TrackingID, &e.CLIType, &e.UserID, &agentID, &convID, &acctID,
		&extID, &platform, &e.WorkspacePath, &e.StartedAt, &e.LastActivityAt,
		&completed, &e.Status, &e.DeliveryStatus, &e.StdoutLength, &files,
		&errStr, &e.StaleThresholdMs, &e.MaxTimeoutMs)
	if err != nil {
		return nil, err
	}
	e.AgentID = agentID.String
	e.ConversationID = convID.String
	e.AccountID = acctID.String
	e.ExternalID = extID.String
	e.Platform = platform.String
	e.Error = errStr.String
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	if len(files) > 0 {
		json.Unmarshal(files, &e.OutputFiles)
	}
	return &e, nil
}
