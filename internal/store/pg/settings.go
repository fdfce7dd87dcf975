package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/store"
)

// PGSettingsStore implements store.SettingsStore backed by Postgres.
type PGSettingsStore struct {
	db *sql.DB
}

func NewPGSettingsStore(db *sql.DB) *PGSettingsStore {
	return &PGSettingsStore{db: db}
}

// Get loads the user's settings, creating the row with defaults on first use.
// The insert is ON CONFLICT DO NOTHING so concurrent first reads never write
// a partial record.
func (s *PGSettingsStore) Get(ctx context.Context, userID string) (*store.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, auto_send_mode, enabled_tools, tool_confidence_threshold,
		       ai_router_mode, ocr_enabled, vision_enabled, document_enabled,
		       voice_enabled, voice_language, created_at, updated_at
		FROM superbrain_settings WHERE user_id = $1`, userID)

	us, err := scanSettings(row)
	if err == nil {
		return us, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	def := store.DefaultUserSettings(userID)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO superbrain_settings (user_id, auto_send_mode, tool_confidence_threshold,
			ai_router_mode, ocr_enabled, vision_enabled, document_enabled, voice_enabled,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING`,
		def.UserID, def.AutoSendMode, def.ToolConfidenceThreshold, def.AIRouterMode,
		def.OCREnabled, def.VisionEnabled, def.DocumentEnabled, def.VoiceEnabled,
		def.CreatedAt, def.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	return def, nil
}

func (s *PGSettingsStore) Save(ctx context.Context, us *store.UserSettings) error {
	var toolsJSON any
	if us.EnabledTools != nil {
		b, err := json.Marshal(us.EnabledTools)
		if err != nil {
			return fmt.Errorf("marshal enabled_tools: %w", err)
		}
		toolsJSON = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO superbrain_settings (user_id, auto_send_mode, enabled_tools,
			tool_confidence_threshold, ai_router_mode, ocr_enabled, vision_enabled,
			document_enabled, voice_enabled, voice_language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			auto_send_mode = EXCLUDED.auto_send_mode,
			enabled_tools = EXCLUDED.enabled_tools,
			tool_confidence_threshold = EXCLUDED.tool_confidence_threshold,
			ai_router_mode = EXCLUDED.ai_router_mode,
			ocr_enabled = EXCLUDED.ocr_enabled,
			vision_enabled = EXCLUDED.vision_enabled,
			document_enabled = EXCLUDED.document_enabled,
			voice_enabled = EXCLUDED.voice_enabled,
			voice_language = EXCLUDED.voice_language,
			updated_at = now()`,
		us.UserID, us.AutoSendMode, toolsJSON, us.ToolConfidenceThreshold,
		us.AIRouterMode, us.OCREnabled, us.VisionEnabled, us.DocumentEnabled,
		us.VoiceEnabled, nullStr(us.VoiceLanguage),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (*store.UserSettings, error) {
	var us store.UserSettings
	var toolsJSON []byte
	var voiceLang sql.NullString
	err := row.Scan(&us.UserID, &us.AutoSendMode, &toolsJSON, &us.ToolConfidenceThreshold,
		&us.AIRouterMode, &us.OCREnabled, &us.VisionEnabled, &us.DocumentEnabled,
		&us.VoiceEnabled, &voiceLang, &us.CreatedAt, &us.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(toolsJSON) > 0 {
		var tools []string
		if err := json.Unmarshal(toolsJSON, &tools); err == nil {
			us.EnabledTools = tools
		}
	}
	us.VoiceLanguage = voiceLang.String
	return &us, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
