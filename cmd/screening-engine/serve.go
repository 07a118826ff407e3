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

	"github.com/spf13/cobra"

	"github.com/terra-clan/screening-engine/internal/api"
	"github.com/terra-clan/screening-engine/internal/bank"
	"github.com/terra-clan/screening-engine/internal/cleanup"
	"github.com/terra-clan/screening-engine/internal/config"
	"github.com/terra-clan/screening-engine/internal/engine"
	"github.com/terra-clan/screening-engine/internal/resultlog"
	"github.com/terra-clan/screening-engine/internal/scoring"
	"github.com/terra-clan/screening-engine/internal/sessions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat and admin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Bank.Dir = resolveBankDir(cmd, cfg.Bank)
	setupLogging(cfg.Log.SlogLevel())

	slog.Info("starting screening-engine",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"results_backend", cfg.Results.Backend,
	)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Question bank. Broken or unscorable tests are skipped, the rest stay
	// available.
	scorer := scoring.Default()
	tests := bank.NewLoader()
	tests.SetCheck(scorer.Check)
	if err := tests.LoadFromDir(cfg.Bank.Dir); err != nil {
		if len(tests.List()) == 0 {
			return fmt.Errorf("no usable tests in %s: %w", cfg.Bank.Dir, err)
		}
		slog.Warn("question bank loaded with errors", "dir", cfg.Bank.Dir, "error", err)
	}

	// Result log
	base, err := resultlog.Open(initCtx, cfg.Results)
	if err != nil {
		return fmt.Errorf("failed to open result log: %w", err)
	}
	results := resultlog.WithRetry(base, cfg.Results.RetryAttempts, cfg.Results.RetryWait)
	defer func() {
		if err := results.Close(); err != nil {
			slog.Error("result log close error", "error", err)
		}
	}()

	checks := map[string]api.Pinger{"results": results}

	// Session store, optionally snapshotted to Redis
	var storeOpts []sessions.Option
	if cfg.Redis.Enabled {
		persister, err := sessions.NewRedisPersister(initCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Sessions.IdleHorizon)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer persister.Close()
		storeOpts = append(storeOpts, sessions.WithPersister(persister))
		checks["redis"] = persister
	}
	store := sessions.NewStore(storeOpts...)
	if cfg.Redis.Enabled {
		restored, err := store.Restore(initCtx)
		if err != nil {
			slog.Warn("failed to restore sessions", "error", err)
		} else {
			slog.Info("sessions restored", "count", restored)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewHub()
	machine := engine.NewMachine(tests, scorer, store, results, hub)
	dispatcher := engine.NewDispatcher(ctx, machine)

	cleaner := cleanup.NewCleaner(store, machine, cfg.Sessions.IdleHorizon, cfg.Sessions.SweepInterval)
	cleaner.Start(ctx)

	server := api.NewServer(cfg.Server, cfg.Admin, api.Deps{
		Tests:    tests,
		Sessions: store,
		Hub:      hub,
		Events:   dispatcher,
		Checks:   checks,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down gracefully...")
	case err := <-serveErr:
		slog.Error("HTTP server error", "error", err)
		dispatcher.Close()
		cancel()
		cleaner.Wait()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Drain queued events and stop the sweep before the result log closes
	dispatcher.Close()
	cancel()
	cleaner.Wait()

	if pending := store.Pending(); len(pending) > 0 {
		slog.Warn("stopping with unsaved results", "users", pending)
	}

	slog.Info("screening-engine stopped")
	return nil
}

