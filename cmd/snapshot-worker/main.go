package main

import (
	"context"
	"errors"
	"time"

	"wellbooks/internal/amqp"
	"wellbooks/internal/cli"
	"wellbooks/internal/core"
	"wellbooks/internal/lock"
	"wellbooks/internal/log"
	"wellbooks/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger := log.Setup(log.ComponentSnapshotWorker)
	logger.Info("Starting snapshot-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	result := cli.OpenBackend(logger, cfg)
	defer result.Cleanup()
	store := result.Store

	opts := []services.GeneratorOption{services.WithConcurrency(cfg.SnapshotConcurrency)}

	// The export worker listens for run messages; without a broker snapshots
	// are still written.
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, "")
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, run results will not be published", log.FieldError, err)
		} else {
			defer client.Close()
			opts = append(opts, services.WithPublisher(client))
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
		}
	}

	if cfg.RedisURL != "" {
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := lock.Connect(connectCtx, cfg.RedisURL)
		connectCancel()
		if err != nil {
			logger.Warn("Redis unavailable, running without run lock", log.FieldError, err)
		} else {
			defer redisClient.Close()
			opts = append(opts, services.WithRunLock(lock.NewRedisLocker(redisClient, cfg.SnapshotLockTTL)))
			logger.Info("Redis run lock enabled", "ttl", cfg.SnapshotLockTTL)
		}
	}

	generator := services.NewSnapshotGenerator(store, store, store, opts...)

	var reconciler *services.Reconciler
	if cfg.SnapshotVerify {
		reconciler = services.NewReconciler(store, store, store, cfg.SnapshotConcurrency)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Snapshot generator configured",
		"interval", cfg.SnapshotInterval,
		"concurrency", cfg.SnapshotConcurrency,
		"verify", cfg.SnapshotVerify,
		"backend", cfg.DataBackend)

	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()

	logger.Info("Running initial snapshot generation...")
	runOnce(ctx, logger, generator, reconciler, time.Now())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				runOnce(ctx, logger, generator, reconciler, now)
				logger.Info("Next snapshot check scheduled",
					"next_check", now.Add(cfg.SnapshotInterval).Format("15:04:05"))
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Snapshot-worker stopped")
}

// runOnce generates the snapshots due at now and optionally verifies every
// stored snapshot afterwards.
func runOnce(ctx context.Context, logger *log.Logger, generator *services.SnapshotGenerator, reconciler *services.Reconciler, now time.Time) {
	res, err := generator.Run(ctx, now)
	var partial *core.PartialBatchError
	switch {
	case errors.As(err, &partial):
		logger.Warn("Snapshot run finished with failures",
			log.FieldSnapshotDate, res.SnapshotDate.String(),
			"processed", res.Processed(),
			"failed", len(partial.Failures))
	case err != nil:
		logger.LogError(ctx, "Snapshot run failed", err, log.OpSnapshot, nil)
		return
	case res.Locked:
		logger.Info("Snapshot run skipped, lock held elsewhere",
			log.FieldSnapshotDate, res.SnapshotDate.String())
		return
	default:
		logger.Info("Snapshot run complete",
			log.FieldSnapshotDate, res.SnapshotDate.String(),
			"processed", res.Processed(),
			"created", res.Created)
	}

	if reconciler == nil {
		return
	}
	reports, err := reconciler.ReconcileAll(ctx)
	if err != nil && !errors.As(err, &partial) {
		logger.LogError(ctx, "Snapshot verification failed", err, log.OpReconcile, nil)
		return
	}
	drifted := 0
	for _, report := range reports {
		for _, drift := range report.Drifts {
			drifted++
			logger.Warn("Snapshot drift detected",
				log.FieldAccountID, report.AccountID,
				log.FieldSnapshotDate, drift.SnapshotDate.String(),
				"stored", core.FormatAmount(drift.Stored),
				"expected", core.FormatAmount(drift.Expected))
		}
	}
	logger.Info("Snapshot verification complete", "accounts", len(reports), "drifts", drifted)
}
