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

// PGMessageStore implements store.MessageStore backed by Postgres.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

// SaveAnalysis upserts content and analysis in a single statement, keeping
// the enricher's content/metadata write atomic.
func (s *PGMessageStore) SaveAnalysis(ctx context.Context, messageID, content string, analysis map[string]any) error {
	b, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, analysis, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			analysis = EXCLUDED.analysis,
			updated_at = now()`,
		messageID, content, b)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// PGMediaCacheStore implements store.MediaCacheStore backed by Postgres.
type PGMediaCacheStore struct {
	db *sql.DB
}

func NewPGMediaCacheStore(db *sql.DB) *PGMediaCacheStore {
	return &PGMediaCacheStore{db: db}
}

func (s *PGMediaCacheStore) Get(ctx context.Context, hash, kind string) (*store.MediaCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, kind, text, created_at FROM media_cache WHERE hash = $1 AND kind = $2`,
		hash, kind)
	var e store.MediaCacheEntry
	err := row.Scan(&e.Hash, &e.Kind, &e.Text, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media cache lookup: %w", err)
	}
	return &e, nil
}

func (s *PGMediaCacheStore) Put(ctx context.Context, e *store.MediaCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_cache (hash, kind, text) VALUES ($1, $2, $3)
		ON CONFLICT (hash, kind) DO UPDATE SET text = EXCLUDED.text`,
		e.Hash, e.Kind, e.Text)
	if err != nil {
		return fmt.Errorf("media cache put: %w", err)
	}
	return nil
}

// PGDeliveryStore implements store.DeliveryStore backed by Postgres.
// The delivery queue table is drained by the platform adapters (external
// collaborators); the core only enqueues.
type PGDeliveryStore struct {
	db *sql.DB
}

func NewPGDeliveryStore(db *sql.DB) *PGDeliveryStore {
	return &PGDeliveryStore{db: db}
}

func (s *PGDeliveryStore) Enqueue(ctx context.Context, item *store.DeliveryItem) error {
	if item.ID == uuid.Nil {
		item.ID = bus.GenID()
	}
	var opts []byte
	if item.Options != nil {
		var err error
		opts, err = json.Marshal(item.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_queue (id, account_id, recipient, platform, content,
			content_type, options, source, conversation_id, agent_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, item.AccountID, item.Recipient, item.Platform, item.Content,
		nullStr(item.ContentType), opts, item.Source, nullStr(item.ConversationID),
		nullStr(item.AgentID), nullStr(item.UserID))
	if err != nil {
		return fmt.Errorf("enqueue delivery: %w", err)
	}
	return nil
}
