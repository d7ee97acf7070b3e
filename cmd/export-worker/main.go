package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wellbooks/internal/amqp"
	"wellbooks/internal/cli"
	"wellbooks/internal/log"
	"wellbooks/internal/services"
	gsheet "wellbooks/internal/sheets/google"
	"wellbooks/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := log.Setup(log.ComponentExportWorker)
	logger.Info("Starting export-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateExport(); err != nil {
		logger.Error("Export configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	result := cli.OpenBackend(logger, cfg)
	defer result.Cleanup()
	store := result.Store

	sheetsClient, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.RoutingSnapshotsGenerated)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	resolver := services.NewBalanceResolver(store, store, store)
	trends := services.NewTrendAggregator(store, resolver)
	exportWorker := worker.NewExportWorker(store, trends, sheetsClient, cfg.ExportTrendYears)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch up on anything missed while the worker was down.
	logger.Info("Performing startup trend export...", log.FieldYears, cfg.ExportTrendYears)
	if _, err := exportWorker.ExportAll(ctx); err != nil {
		logger.Error("Startup export failed", log.FieldError, err)
	}

	go func() {
		if err := amqpClient.ConsumeSnapshotsGenerated(ctx, exportWorker.HandleSnapshotsGenerated); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", log.FieldError, err)
			}
			cancel()
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(5 * time.Second):
		logger.Info("Worker shutdown complete")
	}
}
