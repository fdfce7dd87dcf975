package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Superbrain orchestrator.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Redis     RedisConfig     `json:"redis,omitempty"`
	Providers ProvidersConfig `json:"providers"`
	Router    RouterConfig    `json:"router,omitempty"`
	Pipeline  PipelineConfig  `json:"pipeline,omitempty"`
	Exec      ExecConfig      `json:"exec,omitempty"`
	Workspace WorkspaceConfig `json:"workspace,omitempty"`
	Enrich    EnrichConfig    `json:"enrich,omitempty"`
}

// GatewayConfig configures the HTTP+WS server.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	RateLimitRPM    int      `json:"rate_limit_rpm,omitempty"` // 0 = disabled
	MaxMessageChars int      `json:"max_message_chars,omitempty"`
}

// DatabaseConfig selects the relational backend.
// PostgresDSN is NEVER read from config.json (secret) — only from env
// SUPERBRAIN_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone mode fallback
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
}

// IsManagedMode reports whether Postgres-backed multi-tenant mode is active.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// RedisConfig configures the KV store used for rate-limit counters.
// Addr comes from env SUPERBRAIN_REDIS_ADDR when set.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"-"` // env SUPERBRAIN_REDIS_PASSWORD only
	DB       int    `json:"db,omitempty"`
}

// ProvidersConfig configures the model provider backends.
type ProvidersConfig struct {
	Local  LocalProviderConfig    `json:"local,omitempty"`
	Remote []RemoteProviderConfig `json:"remote,omitempty"`
	CLI    []CLIProviderConfig    `json:"cli,omitempty"`
}

// LocalProviderConfig points at an Ollama-compatible local runtime.
type LocalProviderConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Host        string `json:"host,omitempty"` // default http://127.0.0.1:11434
	Model       string `json:"model,omitempty"`
	VisionModel string `json:"vision_model,omitempty"`
}

// RemoteProviderConfig is an OpenAI-compatible hosted endpoint.
type RemoteProviderConfig struct {
	Tag       string `json:"tag"` // e.g. "remote-free", "remote-paid"
	BaseURL   string `json:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"` // env var holding the key
	Model     string `json:"model"`
	Free      bool   `json:"free,omitempty"`
}

// CLIProviderConfig wraps an agentic coding CLI (claude, gemini, opencode)
// behind the uniform provider call surface.
type CLIProviderConfig struct {
	Tag     string              `json:"tag"`     // e.g. "cli-claude"
	CLIType string              `json:"cli_type"` // "claude", "gemini", "opencode"
	Command FlexibleStringSlice `json:"command,omitempty"` // override command template
	Model   string              `json:"model,omitempty"`
}

// RouterConfig tunes the failover router.
type RouterConfig struct {
	Chains              map[string][]string `json:"chains,omitempty"` // tier → ordered provider tags
	HealthIntervalSecs  int                 `json:"health_interval_secs,omitempty"`
	CircuitThreshold    int                 `json:"circuit_threshold,omitempty"`
	CircuitCooldownSecs int                 `json:"circuit_cooldown_secs,omitempty"`
	CallTimeoutSecs     int                 `json:"call_timeout_secs,omitempty"`
}

// PipelineConfig tunes the message pipeline.
type PipelineConfig struct {
	DedupWindowSecs      int                 `json:"dedup_window_secs,omitempty"`
	GatingCacheTTLSecs   int                 `json:"gating_cache_ttl_secs,omitempty"`
	IntentCacheTTLSecs   int                 `json:"intent_cache_ttl_secs,omitempty"`
	IntentCacheMax       int                 `json:"intent_cache_max,omitempty"`
	BotIdentifiers       FlexibleStringSlice `json:"bot_identifiers,omitempty"`
	PassiveSources       FlexibleStringSlice `json:"passive_sources,omitempty"`
	SkipSources          FlexibleStringSlice `json:"skip_sources,omitempty"`
	ConfidenceThreshold  float64             `json:"confidence_threshold,omitempty"`
	FlowEngineURL        string              `json:"flow_engine_url,omitempty"` // external flow engine webhook
}

// ExecConfig tunes the async CLI execution manager.
type ExecConfig struct {
	MaxConcurrentPerUser int    `json:"max_concurrent_per_user,omitempty"`
	StaleThresholdSecs   int    `json:"stale_threshold_secs,omitempty"`
	MaxTimeoutSecs       int    `json:"max_timeout_secs,omitempty"`
	StdoutCapBytes       int    `json:"stdout_cap_bytes,omitempty"`
	SandboxUser          string `json:"sandbox_user,omitempty"` // uid/gid drop target, optional
	FileTTLHours         int    `json:"file_ttl_hours,omitempty"`
}

// WorkspaceConfig configures per-agent sandbox directories.
type WorkspaceConfig struct {
	Root         string `json:"root,omitempty"`          // default ~/.superbrain/workspaces
	TemplatesDir string `json:"templates_dir,omitempty"` // guide file templates
	CleanupCron  string `json:"cleanup_cron,omitempty"`  // gronx expression, default daily
	CleanupDays  int    `json:"cleanup_days,omitempty"`  // hard-remove soft-deleted after N days
}

// EnrichConfig holds global defaults for media enrichment.
// Per-user toggles in superbrain_settings override these.
type EnrichConfig struct {
	OCREnabled        *bool  `json:"ocr_enabled,omitempty"`
	VisionEnabled     *bool  `json:"vision_enabled,omitempty"`
	DocumentEnabled   *bool  `json:"document_enabled,omitempty"`
	VoiceEnabled      *bool  `json:"voice_enabled,omitempty"`
	VoiceLanguage     string `json:"voice_language,omitempty"`
	OCRCommand        string `json:"ocr_command,omitempty"` // local OCR binary, e.g. tesseract
	WhisperCommand    string `json:"whisper_command,omitempty"`
	MaxDocumentChars  int    `json:"max_document_chars,omitempty"`
	SpreadsheetRows   int    `json:"spreadsheet_rows,omitempty"`
}

// Durations derived from the integer-seconds knobs.

func (p PipelineConfig) DedupWindow() time.Duration {
	if p.DedupWindowSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.DedupWindowSecs) * time.Second
}

func (p PipelineConfig) GatingCacheTTL() time.Duration {
	if p.GatingCacheTTLSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.GatingCacheTTLSecs) * time.Second
}

func (p PipelineConfig) IntentCacheTTL() time.Duration {
	if p.IntentCacheTTLSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.IntentCacheTTLSecs) * time.Second
}

func (e ExecConfig) StaleThreshold() time.Duration {
	if e.StaleThresholdSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(e.StaleThresholdSecs) * time.Second
}

func (e ExecConfig) MaxTimeout() time.Duration {
	if e.MaxTimeoutSecs <= 0 {
		return 60 * time.Minute
	}
	d := time.Duration(e.MaxTimeoutSecs) * time.Second
	if d > 60*time.Minute {
		return 60 * time.Minute // hard cap
	}
	return d
}

func (r RouterConfig) HealthInterval() time.Duration {
	if r.HealthIntervalSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(r.HealthIntervalSecs) * time.Second
}

func (r RouterConfig) CircuitCooldown() time.Duration {
	if r.CircuitCooldownSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.CircuitCooldownSecs) * time.Second
}

func (r RouterConfig) CallTimeout() time.Duration {
	if r.CallTimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(r.CallTimeoutSecs) * time.Second
}
