// Kestrel - Premium rating that answers in under 100 milliseconds.
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
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/overlay"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/resolver"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/version"
	"github.com/opensource-finance/kestrel/internal/worker"
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
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"risk_policy", cfg.Risk.Policy,
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

	// Initialize Store
	store, err := repository.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

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

	// Initialize Version Manager
	versions := version.NewManager(store, cacheImpl, busImpl, cfg.Cache.ActivePointerTTL)
	slog.Info("version manager initialized")

	// Initialize Overlay Registry
	overlays, err := overlay.NewRegistry()
	if err != nil {
		slog.Error("failed to initialize overlay registry", "error", err)
		os.Exit(1)
	}
	if err := loadOverlaysFromFile(overlays); err != nil {
		slog.Error("failed to load overlays", "error", err)
		os.Exit(1)
	}

	// Initialize Risk Policy (in-tree actuarial table adapter)
	riskPolicy := risk.NewPolicy(risk.NewTableAdapter(), cfg.Risk)
	slog.Info("risk adapter initialized", "policy", cfg.Risk.Policy)

	// Initialize Engine
	eng := engine.New(engine.Deps{
		Versions:  versions,
		Territory: resolver.NewTerritory(cacheImpl, cfg.Cache.FactorTTL),
		Vehicle:   resolver.NewVehicle(cacheImpl, cfg.Cache.FactorTTL),
		Driver:    resolver.NewDriver(cacheImpl, cfg.Cache.FactorTTL),
		Coverage:  resolver.NewCoverage(cacheImpl, cfg.Cache.FactorTTL),
		Risk:      riskPolicy,
		Overlays:  overlays,
		Store:     store,
		Bus:       busImpl,
	}, cfg.Engine)
	slog.Info("rating engine initialized",
		"resolver_timeout", cfg.Engine.ResolverTimeout,
		"calculation_timeout", cfg.Engine.CalculationTimeout,
		"bulk_concurrency", cfg.Engine.BulkConcurrency,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, eng, versions, store, cacheImpl, busImpl, Version)

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

// loadOverlaysFromFile loads jurisdiction overlays from the file named by
// KESTREL_OVERLAYS. No file means no overlays: base rates apply everywhere.
func loadOverlaysFromFile(registry *overlay.Registry) error {
	path := os.Getenv("KESTREL_OVERLAYS")
	if path == "" {
		slog.Info("no overlay file configured - base rates apply in all jurisdictions")
		return nil
	}

	overlays, err := overlay.LoadFile(path)
	if err != nil {
		return err
	}

	if err := registry.RegisterAll(overlays); err != nil {
		return err
	}

	slog.Info("jurisdiction overlays loaded", "path", path, "count", len(overlays))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║        Premium Rating Engine              ║")
	fmt.Println("  ║     Every factor accounted for.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /rate                        - Rate a quote request")
	fmt.Println("    POST /rate/bulk                   - Rate a batch of quotes")
	fmt.Println("    GET  /calculations/{id}           - Get calculation by ID")
	fmt.Println("    GET  /calculations/{id}/replay    - Replay and verify a calculation")
	fmt.Println("    POST /ratetables                  - Submit a draft rate table version")
	fmt.Println("    POST /ratetables/{id}/validate    - Validate a draft")
	fmt.Println("    POST /ratetables/{id}/approve     - Approve a validated version")
	fmt.Println("    POST /ratetables/{id}/activate    - Atomically activate an approved version")
	fmt.Println("    GET  /ratetables                  - List versions")
	fmt.Println("    GET  /ratetables/active           - Get the active version")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
