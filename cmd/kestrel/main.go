// Kestrel - Hardware resale valuations that deploy in 60 seconds.
// Copyright (c) 2026 Refurb Labs
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/refurb-labs/kestrel/internal/api"
	"github.com/refurb-labs/kestrel/internal/bus"
	"github.com/refurb-labs/kestrel/internal/cache"
	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/refurb-labs/kestrel/internal/pricing"
	"github.com/refurb-labs/kestrel/internal/repository"
	"github.com/refurb-labs/kestrel/internal/snapshot"
	"github.com/refurb-labs/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
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

	// Initialize Snapshot Builder
	builder := snapshot.NewBuilder(repo, cacheImpl)
	slog.Info("snapshot builder initialized")

	// Initialize Pricing Engine
	engine := pricing.NewEngine()

	// Load rulesets from database (no hardcoded defaults - configure via API)
	if err := loadRulesetsFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rulesets", "error", err)
		os.Exit(1)
	}
	slog.Info("pricing engine initialized", "rulesets_count", engine.RulesetCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, engine, builder, Version)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, builder, Version)

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

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesetsFromDatabase loads shared rulesets into the engine.
// All rulesets must be configured via POST /rulesets - no hardcoded defaults.
func loadRulesetsFromDatabase(ctx context.Context, repo domain.Repository, engine *pricing.Engine) error {
	rulesets, err := repo.ListRulesets(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rulesets from database", "error", err)
		return nil // Start with an empty registry - rulesets can be added via API
	}

	if len(rulesets) > 0 {
		slog.Info("loading rulesets from database", "count", len(rulesets))
		return engine.LoadRulesets(rulesets)
	}

	slog.Info("no rulesets in database - configure via POST /rulesets API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║      Hardware Valuation Engine            ║")
	fmt.Println("  ║      A fair price for every part.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /valuations          - Appraise a listing")
	fmt.Println("    POST /valuations/preview  - What-if against an inline ruleset")
	fmt.Println("    GET  /valuations/{id}     - Get valuation by ID")
	fmt.Println("    POST /listings            - Ingest a listing")
	fmt.Println("    GET  /listings/{id}       - Get listing by ID")
	fmt.Println("    POST /rules/validate      - Validate a formula expression")
	fmt.Println("    GET  /rulesets            - List loaded rulesets")
	fmt.Println("    POST /rulesets            - Create a ruleset")
	fmt.Println("    PUT  /rulesets/{id}       - Update a ruleset (new version)")
	fmt.Println("    DELETE /rulesets/{id}     - Delete a ruleset")
	fmt.Println("    POST /rulesets/reload     - Hot-reload rulesets from database")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
