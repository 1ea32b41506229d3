package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franklinbaldo/baliza-sub001/internal/attempt"
	"github.com/franklinbaldo/baliza-sub001/internal/config"
	"github.com/franklinbaldo/baliza-sub001/internal/discovery"
	"github.com/franklinbaldo/baliza-sub001/internal/fetch"
	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
	"github.com/franklinbaldo/baliza-sub001/internal/payload"
	"github.com/franklinbaldo/baliza-sub001/internal/planner"
	"github.com/franklinbaldo/baliza-sub001/internal/platform/sqlite"
	"github.com/franklinbaldo/baliza-sub001/internal/pncp"
	"github.com/franklinbaldo/baliza-sub001/internal/reconcile"
	attemptrepo "github.com/franklinbaldo/baliza-sub001/internal/repository/attempt"
	payloadrepo "github.com/franklinbaldo/baliza-sub001/internal/repository/payload"
	taskrepo "github.com/franklinbaldo/baliza-sub001/internal/repository/task"
	"github.com/franklinbaldo/baliza-sub001/internal/retry"
	"github.com/franklinbaldo/baliza-sub001/internal/runner"
	"github.com/franklinbaldo/baliza-sub001/internal/server"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

func main() {
	// Config errors are the only process-fatal failures before work begins.
	cfg, err := config.Load(os.Getenv("BALIZA_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Root context: cancelled on SIGINT/SIGTERM so in-flight page fetches
	// stop promptly. Progress is durable, so an interrupted run just resumes.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Repositories
	taskRepo := taskrepo.NewRepository(db.DB)
	attemptRepo := attemptrepo.NewRepository(db.DB)

	var payloads payload.Store
	if cfg.PayloadBackend == "bbolt" {
		store, err := payloadrepo.NewBoltStore(cfg.PayloadPath)
		if err != nil {
			slog.Error("failed to open payload store", "error", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
		payloads = store
	} else {
		payloads = payloadrepo.NewRepository(db.DB)
	}

	// Pipeline
	m := metrics.New()
	client := pncp.New(
		pncp.WithBaseURL(cfg.BaseURL),
		pncp.WithUserAgent(cfg.UserAgent),
	)
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}
	breaker := fetch.NewBreaker(m, cfg.Breaker.Threshold, cfg.Breaker.Cooldown, cfg.Breaker.MaxCooldown)
	reconciler := reconcile.New(taskRepo, attemptRepo, m, cfg.StallThreshold)

	sources := cfg.SourceMap()
	executor := fetch.NewExecutor(taskRepo, attemptRepo, payloads, client, sources, reconciler, breaker, policy, m,
		fetch.WithMaxInFlight(cfg.MaxInFlight),
	)
	discoverer := discovery.New(taskRepo, attemptRepo, payloads, client, sources, policy, m,
		discovery.WithWorkers(cfg.DiscoveryWorkers),
		discovery.WithNotify(executor.Notify),
	)

	from, to := cfg.Window()
	run := runner.New(taskRepo, planner.New(taskRepo, cfg.Sources, m), discoverer, executor, reconciler, m, from, to,
		runner.WithReconcileInterval(cfg.ReconcileInterval),
	)

	// Optional status server for operator inspection during long runs.
	var srv *server.Server
	if cfg.StatusAddr != "" {
		handler := server.NewHandler(task.NewService(taskRepo), attempt.NewService(attemptRepo), payloads, m.Handler())
		srv = server.New(rootCtx, cfg.StatusAddr, handler)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-done
		slog.Info("shutdown signal received", "signal", sig.String())
		rootCancel()
	}()

	summary, runErr := run.Run(rootCtx)
	if runErr != nil {
		slog.Error("extraction run error", "error", runErr)
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	// Failed tasks are reported through the summary, not the exit code; only
	// an infrastructure error that prevented the run entirely is fatal.
	if summary == nil {
		os.Exit(1)
	}
}
