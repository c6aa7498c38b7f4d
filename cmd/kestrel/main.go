// Kestrel - Hybrid fraud decision engine: rules plus model, fused.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	noEstimator := flag.Bool("no-estimator", false, "Run rule-only, without the model endpoint")
	flag.Parse()

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
	cfg, err := domain.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
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

	// Initialize metrics
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

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

	// Initialize customer history service (cached repository reads)
	historySvc := history.NewService(repo, cacheImpl,
		time.Duration(cfg.Cache.LocalTTLSeconds)*time.Second)
	slog.Info("history service initialized")

	// Build the rule catalog: built-ins plus configured custom rules.
	// Registration completes here; the catalog freezes on first evaluation.
	builtin := rules.Builtin(cfg.Rules)
	catalog, err := rules.NewCatalog(builtin...)
	if err != nil {
		slog.Error("failed to build rule catalog", "error", err)
		os.Exit(1)
	}
	custom, err := rules.CustomRules(cfg.CustomRules)
	if err != nil {
		slog.Error("failed to compile custom rules", "error", err)
		os.Exit(1)
	}
	for _, r := range custom {
		if err := catalog.Register(r); err != nil {
			slog.Error("failed to register custom rule", "rule", r.Name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("rule catalog built",
		"builtin", len(builtin),
		"custom", len(custom),
	)

	evaluator := rules.NewEvaluator(catalog, historySvc,
		time.Duration(cfg.Rules.LookupTimeoutSeconds)*time.Second)

	// Initialize the risk estimator client
	var riskEstimator domain.RiskEstimator
	if !*noEstimator {
		est, err := estimator.New(cfg.Estimator)
		if err != nil {
			slog.Error("failed to initialize estimator", "error", err)
			os.Exit(1)
		}
		riskEstimator = est
		slog.Info("estimator initialized",
			"endpoint", cfg.Estimator.Endpoint,
			"threshold", est.Threshold(),
		)
	} else {
		slog.Warn("running without estimator: decisions are rule-only")
	}

	// Initialize the fusion policy and scoring pipeline
	fuser := fusion.New(cfg.Fusion, cfg.Rules)
	scorer := scoring.New(riskEstimator, evaluator, fuser, repo, busImpl).
		WithHistoryInvalidator(historySvc)
	slog.Info("scoring pipeline initialized", "engine_version", fusion.EngineVersion)

	// Initialize alert lifecycle manager
	alerter := alerts.NewManager(repo, busImpl)

	// Initialize async worker
	asyncWorker := worker.NewWorker(busImpl, scorer, alerter)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, scorer, alerter, repo, cacheImpl, busImpl, catalog, Version)

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

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                🦅 KESTREL                 ║")
	fmt.Println("  ║        Fraud Decision Engine              ║")
	fmt.Println("  ║    Rules plus model, one decision.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /decide              - Evaluate a transaction")
	fmt.Println("    POST /ingest              - Queue a transaction for async evaluation")
	fmt.Println("    GET  /transactions/{id}   - Get transaction by ID")
	fmt.Println("    GET  /alerts              - List fraud alerts")
	fmt.Println("    GET  /alerts/{id}         - Get alert by ID")
	fmt.Println("    POST /alerts/{id}/status  - Transition an alert")
	fmt.Println("    GET  /alerts/stats        - Alert statistics")
	fmt.Println("    GET  /predictions/history - Prediction log")
	fmt.Println("    GET  /rules               - List the rule catalog")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
