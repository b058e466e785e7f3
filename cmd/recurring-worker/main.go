package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"spese/internal/cache"
	"spese/internal/cli"
	"spese/internal/log"
	"spese/internal/services"
	"spese/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), log.ComponentWorker)
	bootstrap.Info("Starting recurring-worker", log.FieldOperation, log.OpStartup)

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		bootstrap.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)

	repo, err := cli.InitSQLite(logger.WithComponent(log.ComponentStorage), cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err)
		os.Exit(1)
	}

	// events are optional; the worker keeps storing expenses without a broker
	var publisher services.EventPublisher
	amqpClient, err := cli.InitAMQP(logger.WithComponent(log.ComponentAMQP), cfg)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
	} else if amqpClient != nil {
		publisher = amqpClient
	}

	materializer, occurrenceCache := cli.NewMaterializer(cfg)
	janitor := cache.NewJanitor(time.Minute, occurrenceCache)
	logger.WithComponent(log.ComponentCache).Info("Materialization cache ready",
		"size", cfg.CacheSize,
		"ttl", cfg.CacheTTL.String())

	processorConfig := services.DefaultRecurringProcessorConfig()
	processorConfig.LookbackDays = cfg.RecurringLookbackDays
	processor := services.NewRecurringProcessor(repo, materializer, publisher, processorConfig)

	w, err := worker.NewRecurringWorker(processor, cfg.RecurringSchedule, time.UTC)
	if err != nil {
		logger.Error("Failed to create recurring worker", "error", err)
		os.Exit(1)
	}

	logger.WithComponent(log.ComponentRecurrence).Info("Recurring worker configured",
		"schedule", cfg.RecurringSchedule,
		"lookback_days", cfg.RecurringLookbackDays,
		"sqlite_db", cfg.SQLiteDBPath,
		"events", publisher != nil)

	root, stop := context.WithCancel(context.Background())
	defer stop()

	stopped := make(chan struct{})
	ctx, done := cli.GracefulShutdown(root, logger, 30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Stopping recurring-worker", log.FieldOperation, log.OpShutdown)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn("Recurring run still in progress, closing resources anyway")
		}

		var errs []error
		if amqpClient != nil {
			errs = append(errs, amqpClient.Close())
		}
		errs = append(errs, repo.Close())
		if err := errors.Join(errs...); err != nil {
			logger.Warn("Error while closing resources", "error", err)
		}
	})
	ctx = log.IntoContext(ctx, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Recurring worker stopped", "error", err)
	}
	close(stopped)
	stop()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
