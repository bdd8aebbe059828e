// Command server hosts the qPCR S-curve engine's HTTP command surface,
// adapted from the teacher's cmd/server/main.go: same config-load ->
// validate -> build-server -> graceful-shutdown shape, wiring the
// orchestrator.Engine and its collaborators instead of a variant
// interpretation service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/api"
	"github.com/qpcr-scurve/engine/internal/cache"
	"github.com/qpcr-scurve/engine/internal/config"
	"github.com/qpcr-scurve/engine/internal/database"
	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/internal/feedback"
	"github.com/qpcr-scurve/engine/internal/mlclassifier"
	"github.com/qpcr-scurve/engine/internal/orchestrator"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host, "port": cfg.Server.Port,
	}).Info("starting qPCR S-curve engine")

	trainingStore, err := newTrainingStore(configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open training example store")
	}
	defer trainingStore.Close()

	models := mlclassifier.NewRegistry(logger, cfg.ML)

	// The pathogen library, fixed-threshold table, and ML config are
	// already loaded and validated by configManager at startup, so the
	// orchestrator's ConfigProvider is given no loaders (Refresh is never
	// called) and simply seeded with the validated snapshot directly.
	configs := orchestrator.NewConfigProvider(logger, nil, nil, nil)
	configs.SetSnapshot(cfg.PathogenLibrary, cfg.FixedThresholdTable, cfg.ML)

	runCache, err := cache.New(logger, cache.Config{
		RedisURL:   cfg.Cache.RedisURL,
		DefaultTTL: parseDurationOrDefault(cfg.Cache.DefaultTTL, 15*time.Minute),
		PoolSize:   cfg.Cache.PoolSize,
		MaxRetries: cfg.Cache.MaxRetries,
		LRUSize:    cache.DefaultConfig().LRUSize,
	})
	if err != nil {
		logger.WithError(err).Warn("cache unavailable, running without the threshold/fit cache tier")
		runCache = nil
	}

	engine := orchestrator.NewEngine(orchestrator.Deps{
		Logger:        logger,
		Models:        models,
		Predictor:     models,
		TrainingStore: trainingStore,
		Configs:       configs,
		Cache:         runCache,
	})

	server := api.NewServer(engine, configManager, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, draining in-flight requests")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("server failed to start")
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

// newTrainingStore picks sqlite or postgres per database.driver, mirroring
// the teacher's dual-backend selection in internal/feedback. The postgres
// path runs pending migrations first so training_examples/model_versions
// exist before the store opens.
func newTrainingStore(configManager *config.Manager, logger *logrus.Logger) (domain.TrainingStore, error) {
	dbCfg := configManager.GetDatabaseConfig()
	if dbCfg.Driver == "postgres" {
		url := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			dbCfg.Username, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Database, dbCfg.SSLMode)
		runner, err := database.NewMigrationRunner(url, "internal/database/migrations", logger)
		if err != nil {
			return nil, fmt.Errorf("creating migration runner: %w", err)
		}
		if err := runner.Up(context.Background()); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return feedback.NewPostgresStoreFromURL(configManager.GetDatabaseConnectionString())
	}
	return feedback.NewSQLiteStore(dbCfg.SQLitePath)
}

func parseDurationOrDefault(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
