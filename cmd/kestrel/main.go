// Kestrel - Pre-transaction AML risk decisions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluator"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/keyword"
	"github.com/opensource-finance/kestrel/internal/refdata"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg := domain.LoadConfigFromEnv()
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"flag_threshold", cfg.Risk.FlagThreshold,
		"block_threshold", cfg.Risk.BlockThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	refs := refdata.NewService(repo, cacheImpl, cfg.RefData)
	scorer := keyword.NewScorer(refs)

	registry, err := evaluator.NewRegistry(evaluator.Deps{
		History:   history.NewAccessor(repo),
		Accounts:  refs,
		Countries: refs,
	})
	if err != nil {
		slog.Error("failed to initialize evaluators", "error", err)
		os.Exit(1)
	}

	engine, err := rules.NewEngine(registry, repo)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := seedRules(ctx, repo); err != nil {
		slog.Error("failed to seed default rules", "error", err)
		os.Exit(1)
	}
	if _, err := engine.Refresh(ctx, repo); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	processor := decision.NewProcessor(repo, engine, scorer, busImpl, cfg.Risk)

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, processor)
		if err := asyncWorker.Start(worker.Config{Timeout: 30 * time.Second}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Engine:    engine,
		Processor: processor,
		Keywords:  scorer,
		RefData:   refs,
		Version:   Version,
	})

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

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming before the bus and database close.
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

// seedRules stores the built-in rule set when the database has no active
// rules yet. Existing rules are never overwritten.
func seedRules(ctx context.Context, store domain.RuleStore) error {
	existing, err := store.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := rules.DefaultRules()
	for _, rule := range defaults {
		if err := store.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
		}
	}
	slog.Info("seeded default rules", "count", len(defaults))
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
