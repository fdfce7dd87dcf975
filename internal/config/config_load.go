package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18890,
			MaxMessageChars: 32000,
			RateLimitRPM:    60,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.superbrain/superbrain.db",
		},
		Providers: ProvidersConfig{
			Local: LocalProviderConfig{
				Host:        "http://127.0.0.1:11434",
				Model:       "llama3.2",
				VisionModel: "llava",
			},
		},
		Pipeline: PipelineConfig{
			PassiveSources:      FlexibleStringSlice{"@newsletter", "@broadcast", "@channel"},
			ConfidenceThreshold: 0.70,
			IntentCacheMax:      1000,
		},
		Exec: ExecConfig{
			MaxConcurrentPerUser: 3,
			StdoutCapBytes:       2 << 20,
			FileTTLHours:         72,
		},
		Workspace: WorkspaceConfig{
			Root:        "~/.superbrain/workspaces",
			CleanupCron: "0 3 * * *",
			CleanupDays: 30,
		},
		Enrich: EnrichConfig{
			MaxDocumentChars: 3000,
			SpreadsheetRows:  50,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays secrets and operational overrides from the environment.
// Secrets (DSN, passwords) are env-only by design.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPERBRAIN_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
		if cfg.Database.Mode == "" {
			cfg.Database.Mode = "managed"
		}
	}
	if v := os.Getenv("SUPERBRAIN_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SUPERBRAIN_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SUPERBRAIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SUPERBRAIN_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Providers.Local.Host = v
	}
}

// Validate rejects configurations that cannot serve traffic.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.mode=managed requires SUPERBRAIN_POSTGRES_DSN")
	}
	seen := map[string]bool{}
	for _, rp := range c.Providers.Remote {
		if rp.Tag == "" {
			return fmt.Errorf("remote provider with empty tag")
		}
		if seen[rp.Tag] {
			return fmt.Errorf("duplicate provider tag %q", rp.Tag)
		}
		seen[rp.Tag] = true
	}
	for _, cp := range c.Providers.CLI {
		switch cp.CLIType {
		case "claude", "gemini", "opencode":
		default:
			return fmt.Errorf("unknown cli_type %q for provider %q", cp.CLIType, cp.Tag)
		}
		if seen[cp.Tag] {
			return fmt.Errorf("duplicate provider tag %q", cp.Tag)
		}
		seen[cp.Tag] = true
	}
	if t := c.Pipeline.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("pipeline.confidence_threshold out of [0,1]: %v", t)
	}
	return nil
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// ExpandHome is the exported variant used by stores and the workspace manager.
func ExpandHome(path string) string { return expandHome(path) }
