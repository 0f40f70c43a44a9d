// Kestrel - AML transaction decisioning engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/matching"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration before logger setup: the log level comes from it.
	cfg, err := domain.LoadConfig(os.Getenv("KESTREL_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine: built-in typology rules plus any enabled
	// definitions in the store.
	ruleEngine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := ruleEngine.Load(rules.BuiltinRules(cfg.Compliance)); err != nil {
		slog.Error("failed to load builtin rules", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, repo, ruleEngine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.Count())

	// Decisioning components.
	scorer := scoring.NewScorer(cfg.Risk)
	complianceEngine := compliance.NewEngine(cfg.Compliance)
	velocitySvc := velocity.NewService(cacheImpl, repo, velocity.DefaultWindow)
	matcher := matching.NewMatcher(cfg.Matching)

	pipe := pipeline.New(pipeline.Config{
		Rules:         ruleEngine,
		Scorer:        scorer,
		Compliance:    complianceEngine,
		Velocity:      velocitySvc,
		Cache:         cacheImpl,
		Repo:          repo,
		Bus:           busImpl,
		AssessmentTTL: cfg.Cache.AssessmentTTL,
	})
	slog.Info("decisioning pipeline initialized")

	// Async worker consumes the ingest topic.
	asyncWorker := worker.NewWorker(busImpl, pipe)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
	}

	// Initialize Server
	handler := api.NewHandler(api.HandlerConfig{
		Pipeline:         pipe,
		Rules:            ruleEngine,
		Scorer:           scorer,
		Compliance:       complianceEngine,
		Matcher:          matcher,
		Repo:             repo,
		Cache:            cacheImpl,
		Bus:              busImpl,
		ComplianceConfig: cfg.Compliance,
		Version:          Version,
	})
	srv := api.NewServer(cfg.Server, handler)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadRulesFromDatabase registers the enabled dynamic rules on top of the
// builtins. A missing or empty table is not an error: dynamic rules are
// configured via POST /rules.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRuleDefinitions(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}
	if len(stored) == 0 {
		slog.Info("no dynamic rules in database - configure via POST /rules")
		return nil
	}

	slog.Info("loading rules from database", "count", len(stored))
	defs := make([]domain.RuleDefinition, 0, len(stored))
	for _, def := range stored {
		defs = append(defs, *def)
	}
	return engine.Load(defs)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     AML Decisioning Engine                ║")
	fmt.Println("  ║     Every transaction, decided.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/evaluate             - Evaluate a transaction")
	fmt.Println("    POST /api/v1/screen               - Screen a name against a watchlist")
	fmt.Println("    GET  /api/v1/assessments/{txnId}  - Get assessment by transaction ID")
	fmt.Println("    GET  /api/v1/transactions/{txnId} - Get transaction by ID")
	fmt.Println("    GET  /api/v1/rules                - List loaded rules")
	fmt.Println("    POST /api/v1/rules                - Create a new rule")
	fmt.Println("    POST /api/v1/rules/reload         - Hot-reload rules from database")
	fmt.Println("    PUT  /api/v1/config/risk          - Update risk tables")
	fmt.Println("    PUT  /api/v1/config/compliance    - Update jurisdiction lists")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println("    GET  /ready                       - Readiness check")
	fmt.Println()
}
