package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/internal/classify"
	"github.com/nextlevelbuilder/superbrain/internal/clirun"
	"github.com/nextlevelbuilder/superbrain/internal/config"
	"github.com/nextlevelbuilder/superbrain/internal/enrich"
	"github.com/nextlevelbuilder/superbrain/internal/flows"
	"github.com/nextlevelbuilder/superbrain/internal/gateway"
	"github.com/nextlevelbuilder/superbrain/internal/gating"
	"github.com/nextlevelbuilder/superbrain/internal/intent"
	"github.com/nextlevelbuilder/superbrain/internal/pipeline"
	"github.com/nextlevelbuilder/superbrain/internal/providers"
	"github.com/nextlevelbuilder/superbrain/internal/router"
	"github.com/nextlevelbuilder/superbrain/internal/store"
	"github.com/nextlevelbuilder/superbrain/internal/store/pg"
	"github.com/nextlevelbuilder/superbrain/internal/store/sqlite"
	"github.com/nextlevelbuilder/superbrain/internal/tools"
	"github.com/nextlevelbuilder/superbrain/internal/workspace"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
	log := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	stores, err := openStores(cfg)
	if err != nil {
		log.Error("failed to open stores", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := bus.NewHub()

	// Rate-limit counters live in Redis when configured; the in-process
	// counter covers standalone deployments.
	var limiter gating.RateLimiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, falling back to in-process rate limiting", "error", err)
			limiter = gating.NewMemoryLimiter()
		} else {
			limiter = gating.NewRedisLimiter(rdb)
			log.Info("redis rate limiting enabled", "addr", cfg.Redis.Addr)
		}
	} else {
		limiter = gating.NewMemoryLimiter()
	}

	gater := gating.New(stores.Gating, limiter, log)
	classifier := classify.New(cfg.Pipeline.PassiveSources, cfg.Pipeline.SkipSources)

	provs, localProvider := buildProviders(ctx, cfg, stores, log)
	if len(provs) == 0 {
		log.Error("no model providers configured; set providers.local.enabled or add remote providers")
		os.Exit(1)
	}

	rtr := router.New(router.Config{
		CircuitThreshold: cfg.Router.CircuitThreshold,
		CircuitCooldown:  cfg.Router.CircuitCooldown(),
		CallTimeout:      cfg.Router.CallTimeout(),
		HealthInterval:   cfg.Router.HealthInterval(),
		Chains:           cfg.Router.Chains,
	}, provs, stores, hub, log)
	if err := rtr.LoadChains(ctx); err != nil {
		log.Warn("failover chains not loaded from store", "error", err)
	}
	rtr.StartHealthMonitor(ctx)

	reg := buildToolRegistry(cfg, stores, rtr)
	log.Info("tools registered", "names", reg.Names())

	enricher := buildEnricher(cfg, localProvider, rtr, stores, log)
	intents := intent.New(reg, rtr, stores.Settings, log)

	wsMgr, err := workspace.NewManager(workspace.Config{
		Root:         config.ExpandHome(cfg.Workspace.Root),
		TemplatesDir: config.ExpandHome(cfg.Workspace.TemplatesDir),
		SandboxUser:  cfg.Exec.SandboxUser,
	}, stores.Workspaces, log)
	if err != nil {
		log.Error("workspace manager init failed", "error", err)
		os.Exit(1)
	}
	if err := wsMgr.StartCleanup(ctx, cfg.Workspace.CleanupCron, cfg.Workspace.CleanupDays); err != nil {
		log.Warn("workspace cleanup scheduler disabled", "error", err)
	}

	execCfg := clirun.Config{
		MaxConcurrentPerUser: cfg.Exec.MaxConcurrentPerUser,
		StaleThreshold:       cfg.Exec.StaleThreshold(),
		MaxTimeout:           cfg.Exec.MaxTimeout(),
		StdoutCap:            cfg.Exec.StdoutCapBytes,
	}
	if uid, gid, ok := wsMgr.SandboxIDs(); ok {
		execCfg.SandboxUID = uid
		execCfg.SandboxGID = gid
	}
	execMgr := clirun.NewManager(execCfg, stores.Executions, stores.Delivery, hub, log)

	fileSvc := gateway.NewFileService(publicBaseURL(cfg), log)
	fileSvc.StartSweep(ctx.Done(), time.Hour)
	execMgr.SetFileRegistrar(fileSvc)

	if err := execMgr.Recover(ctx); err != nil {
		log.Warn("execution recovery failed", "error", err)
	}

	pipe := pipeline.New(pipeline.Config{
		DedupWindow: cfg.Pipeline.DedupWindow(),
	}, gater, classifier, stores, log)
	pipe.SetEnricher(enricher)
	pipe.SetIntentRouter(intents)
	pipe.SetDirectAI(rtr)
	pipe.SetEvents(hub)
	if url := cfg.Pipeline.FlowEngineURL; url != "" {
		pipe.SetFlowEngine(flows.NewWebhookEngine(url, nil))
		log.Info("flow engine wired", "url", url)
	}

	// Completed executions in recall mode re-enter the pipeline as system
	// messages so the agent can narrate the result in conversation.
	execMgr.SetRecall(func(ctx context.Context, rec *store.ExecutionRecord, summary string, files []clirun.FileReport) error {
		msg := &bus.Message{
			Platform:       rec.Platform,
			From:           "system",
			Content:        summary,
			ContentType:    bus.ContentText,
			ConversationID: rec.ConversationID,
		}
		bctx := &bus.Context{
			UserID:         rec.UserID,
			AgentID:        rec.AgentID,
			AccountID:      rec.AccountID,
			ConversationID: rec.ConversationID,
		}
		pipe.Process(ctx, msg, bctx)
		return nil
	})

	server := gateway.NewServer(cfg.Gateway, pipe, execMgr, hub, log)
	server.SetFileService(fileSvc)
	server.SetWorkspaces(wsMgr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("graceful shutdown initiated", "signal", sig)
		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		cancel()
	}()

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	log.Info("superbrain starting",
		"version", Version,
		"mode", mode,
		"providers", len(provs),
		"tools", len(reg.Names()),
	)

	if err := server.Start(ctx); err != nil {
		log.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	}
	return sqlite.NewSQLiteStores(store.StoreConfig{
		SQLitePath: config.ExpandHome(cfg.Database.SQLitePath),
	})
}

// buildProviders assembles the provider set from config, then overlays rows
// from the provider store. Config tags win on conflict.
func buildProviders(ctx context.Context, cfg *config.Config, stores *store.Stores, log *slog.Logger) (provs []providers.Provider, local providers.Provider) {
	seen := map[string]bool{}
	add := func(p providers.Provider, err error, tag string) {
		if err != nil {
			log.Warn("provider skipped", "tag", tag, "error", err)
			return
		}
		if seen[p.Name()] {
			return
		}
		seen[p.Name()] = true
		provs = append(provs, p)
	}

	if cfg.Providers.Local.Enabled {
		p, err := providers.NewOllamaProvider("local", cfg.Providers.Local.Host, cfg.Providers.Local.Model)
		add(p, err, "local")
		if err == nil {
			local = p
		}
	}
	for _, rp := range cfg.Providers.Remote {
		p, err := providers.NewOpenAIProvider(rp.Tag, rp.BaseURL, rp.APIKeyEnv, rp.Model, rp.Free)
		add(p, err, rp.Tag)
	}
	for _, cp := range cfg.Providers.CLI {
		p, err := providers.NewCLIProvider(cp.Tag, cp.CLIType, cp.Model, cp.Command)
		add(p, err, cp.Tag)
	}

	records, err := stores.Providers.ListEnabled(ctx)
	if err != nil {
		log.Warn("provider store unavailable", "error", err)
		return provs, local
	}
	for _, rec := range records {
		if seen[rec.Tag] {
			continue
		}
		switch rec.Kind {
		case "local":
			p, err := providers.NewOllamaProvider(rec.Tag, rec.BaseURL, rec.Model)
			add(p, err, rec.Tag)
		case "remote":
			p, err := providers.NewOpenAIProvider(rec.Tag, rec.BaseURL, rec.APIKeyEnv, rec.Model, false)
			add(p, err, rec.Tag)
		case "cli":
			// CLI rows carry the binary type in the tag, e.g. "cli-claude".
			p, err := providers.NewCLIProvider(rec.Tag, strings.TrimPrefix(rec.Tag, "cli-"), rec.Model, nil)
			add(p, err, rec.Tag)
		default:
			log.Warn("unknown provider kind in store", "tag", rec.Tag, "kind", rec.Kind)
		}
	}
	return provs, local
}

func buildToolRegistry(cfg *config.Config, stores *store.Stores, rtr *router.Router) *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(tools.NewSearchWebTool(tools.SearchConfig{
		BraveAPIKey: os.Getenv("SUPERBRAIN_BRAVE_API_KEY"),
		DDGEnabled:  true,
	}))
	reg.Register(tools.NewFetchWebPageTool(tools.FetchConfig{}))
	reg.Register(tools.NewFetchJsPageTool(tools.FetchConfig{}))

	readCfg := tools.ReadToolConfig{
		MaxRows:  cfg.Enrich.SpreadsheetRows,
		MaxChars: cfg.Enrich.MaxDocumentChars,
	}
	reg.Register(tools.NewReadPdfTool(readCfg))
	reg.Register(tools.NewReadExcelTool(readCfg))
	reg.Register(tools.NewReadDocxTool(readCfg))
	reg.Register(tools.NewReadTextTool(readCfg))
	reg.Register(tools.NewReadCsvTool(readCfg))

	reg.Register(tools.NewSendWhatsAppTool(stores.Delivery, nil))
	reg.Register(tools.NewSendTelegramTool(stores.Delivery, nil))
	reg.Register(tools.NewSendEmailTool(stores.Delivery, nil))

	reg.Register(tools.NewAIChatTool(rtr))
	reg.Register(tools.NewClarifyTool())
	return reg
}

func buildEnricher(cfg *config.Config, local providers.Provider, rtr *router.Router, stores *store.Stores, log *slog.Logger) *enrich.Enricher {
	var ocr enrich.OCREngine
	if cfg.Enrich.OCRCommand != "" {
		ocr = enrich.NewCommandOCR(cfg.Enrich.OCRCommand)
	}

	var vision *enrich.VisionChain
	if local != nil && cfg.Providers.Local.VisionModel != "" {
		vision = enrich.NewVisionChain(log,
			enrich.NewProviderCaptioner(local, cfg.Providers.Local.VisionModel))
	}

	var voice *enrich.TranscriberChain
	if transcribers := buildTranscribers(cfg); len(transcribers) > 0 {
		voice = enrich.NewTranscriberChain(transcribers...)
	}

	return enrich.New(ocr, vision, voice, rtr, stores.Messages, stores.MediaCache, enrich.Config{
		MaxDocumentChars: cfg.Enrich.MaxDocumentChars,
		SpreadsheetRows:  cfg.Enrich.SpreadsheetRows,
	}, log)
}

// buildTranscribers orders the voice chain local-first; the cloud API is
// the fallback.
func buildTranscribers(cfg *config.Config) []enrich.Transcriber {
	var transcribers []enrich.Transcriber
	if cfg.Enrich.WhisperCommand != "" {
		transcribers = append(transcribers, enrich.NewCommandTranscriber(cfg.Enrich.WhisperCommand, ""))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		transcribers = append(transcribers, enrich.NewOpenAITranscriber(key, "", "whisper-1"))
	}
	return transcribers
}

// publicBaseURL is what download links are prefixed with. Deployments behind
// a proxy set SUPERBRAIN_PUBLIC_URL.
func publicBaseURL(cfg *config.Config) string {
	if v := os.Getenv("SUPERBRAIN_PUBLIC_URL"); v != "" {
		return v
	}
	host := cfg.Gateway.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
}
