package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/superbrain/internal/config"
	"github.com/nextlevelbuilder/superbrain/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("superbrain doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config INVALID: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
		db, dbErr := sql.Open("pgx", cfg.Database.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", dbErr)
		} else if pingErr := db.Ping(); pingErr != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", pingErr)
			db.Close()
		} else {
			fmt.Printf("    %-12s OK\n", "Status:")
			if s, schemaErr := pg.CheckSchema(db); schemaErr != nil {
				fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", schemaErr)
			} else if s.Dirty {
				fmt.Printf("    %-12s v%d (DIRTY; run: superbrain migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
			} else if s.Compatible {
				fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
			} else {
				fmt.Printf("    %-12s v%d (required v%d; run: superbrain migrate up)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
			}
			db.Close()
		}
	} else {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		fmt.Printf("    %-12s standalone (sqlite)\n", "Mode:")
		fmt.Printf("    %-12s %s\n", "Path:", path)
	}

	fmt.Println()
	fmt.Println("  Redis:")
	if cfg.Redis.Addr == "" {
		fmt.Println("    (not configured; in-process rate limiting)")
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			fmt.Printf("    %-12s UNREACHABLE (%s)\n", cfg.Redis.Addr+":", err)
		} else {
			fmt.Printf("    %-12s OK\n", cfg.Redis.Addr+":")
		}
		cancel()
		rdb.Close()
	}

	fmt.Println()
	fmt.Println("  Providers:")
	if cfg.Providers.Local.Enabled {
		fmt.Printf("    %-16s %s (model %s)\n", "local:", cfg.Providers.Local.Host, cfg.Providers.Local.Model)
	} else {
		fmt.Printf("    %-16s disabled\n", "local:")
	}
	for _, rp := range cfg.Providers.Remote {
		checkProviderKey(rp.Tag, rp.APIKeyEnv)
	}
	for _, cp := range cfg.Providers.CLI {
		checkBinary(cp.CLIType)
	}

	fmt.Println()
	fmt.Println("  Enrichment Tools:")
	if cfg.Enrich.OCRCommand != "" {
		checkBinary(cfg.Enrich.OCRCommand)
	} else {
		fmt.Println("    OCR:         (not configured)")
	}
	if cfg.Enrich.WhisperCommand != "" {
		checkBinary(cfg.Enrich.WhisperCommand)
	} else {
		fmt.Println("    Whisper:     (not configured)")
	}

	fmt.Println()
	ws := config.ExpandHome(cfg.Workspace.Root)
	fmt.Printf("  Workspaces: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND, created on first use)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProviderKey(tag, keyEnv string) {
	key := os.Getenv(keyEnv)
	if keyEnv == "" {
		fmt.Printf("    %-16s (no api_key_env set)\n", tag+":")
		return
	}
	if key == "" {
		fmt.Printf("    %-16s $%s NOT SET\n", tag+":", keyEnv)
		return
	}
	masked := key
	if len(key) > 8 {
		masked = key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
	}
	fmt.Printf("    %-16s $%s = %s\n", tag+":", keyEnv, masked)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
