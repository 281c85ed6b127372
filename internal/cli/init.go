// Package cli holds the initialization steps shared by cmd/tally and
// cmd/tally-worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/config"
	"tally/internal/logging"
	"tally/internal/storage"
)

// Setup loads the optional .env file, configures logging and returns a
// validated configuration. Exits the process on invalid configuration.
func Setup() (*slog.Logger, *config.Config) {
	// .env is for local development; absence is fine in production.
	_ = godotenv.Load()

	logger := logging.Setup()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return logger, cfg
}

// InitSQLite opens the ledger store or exits the process on failure.
func InitSQLite(logger *slog.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// GracefulShutdown returns a context cancelled on SIGINT/SIGTERM and a
// channel closed once cleanup has run.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		if cleanup != nil {
			finished := make(chan struct{})
			go func() {
				cleanup()
				close(finished)
			}()
			select {
			case <-finished:
			case <-time.After(timeout):
				logger.Warn("Cleanup did not finish in time", "timeout", timeout)
			}
		}
		cancel()
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the shutdown context is cancelled and
// cleanup has finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
