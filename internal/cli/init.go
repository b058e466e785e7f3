// Package cli provides common CLI initialization utilities shared by
// cmd/recurring-worker and cmd/spesectl.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spese/internal/amqp"
	"spese/internal/cache"
	"spese/internal/config"
	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/recurrence"
	"spese/internal/storage"
)

// SetupLogger builds the process logger from level and format and installs
// it as the slog default. An unknown level falls back to info.
func SetupLogger(level, format, component string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Format = format
	cfg.Component = component
	if lvl, err := log.ParseLevel(level); err == nil {
		cfg.Level = lvl
	}

	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitSQLite opens the repository at dbPath, applying pending migrations.
func InitSQLite(logger *log.Logger, dbPath string) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository at %s: %w", dbPath, err)
	}
	logger.Info("SQLite repository ready", "path", dbPath)
	return repo, nil
}

// InitAMQP connects to the broker. It returns nil without error when no URL
// is configured, so callers run without events.
func InitAMQP(logger *log.Logger, cfg *config.Config) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP not configured, events disabled")
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	logger.Info("AMQP client connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client, nil
}

// NewMaterializer builds the cached materializer and returns its cache so
// the caller can register it with a janitor.
func NewMaterializer(cfg *config.Config) (*recurrence.CachedMaterializer, *cache.LRUCache[[]core.Occurrence]) {
	c := cache.NewLRUCache[[]core.Occurrence](cfg.CacheSize, cfg.CacheTTL)
	return recurrence.NewCachedMaterializer(c), c
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// The returned context is cancelled on SIGINT, SIGTERM or when parent is
// done; cleanup then runs once, bounded by timeout, and done is closed when
// it has finished.
func GracefulShutdown(parent context.Context, logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
