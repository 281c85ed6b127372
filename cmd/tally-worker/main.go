package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/internal/cli"
	"tally/internal/events"
	gsheet "tally/internal/sheets/google"
	"tally/internal/worker"
)

func main() {
	logger, cfg := cli.Setup()

	logger.Info("Starting tally-worker")

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required for the mirror worker")
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the mirror worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	sheetsClient, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	eventsClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer eventsClient.Close()

	mirror := worker.NewMirrorWorker(repo, sheetsClient, cfg.MirrorBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch up on rows written while the worker or broker was down.
	logger.Info("Performing startup backfill...")
	if err := mirror.StartupBackfill(ctx); err != nil {
		logger.Error("Startup backfill failed", "error", err)
		// Keep running; the periodic backfill will retry.
	}

	go func() {
		if err := eventsClient.ConsumeExpenseEvents(ctx, mirror.HandleEvent); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Event consumption failed", "error", err)
			}
			cancel()
		}
	}()

	// Periodic backfill picks up anything the event path missed.
	ticker := time.NewTicker(cfg.MirrorInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := mirror.StartupBackfill(ctx); err != nil {
					logger.Error("Periodic backfill failed", "error", err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight appends a moment to land before closing connections.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
