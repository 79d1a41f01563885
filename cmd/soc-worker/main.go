// Command soc-worker runs the ingest-heavy side of the platform: the
// parsing worker that turns raw collected evidence into ECS documents, the
// index worker that bulk-indexes them, and the enrichment worker that
// extracts and enriches indicators out of newly-fired alerts. Which of
// those actually start is controlled by the SERVICES environment variable.
package main

import (
	"context"
	"os"

	"github.com/target/soc-core/internal/bootstrap"
)

func main() {
	logger := bootstrap.InitLogger()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		logger.Error("invalid service configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting soc-worker", "services", bootstrap.GetEnabledServices(&cfg))

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	services, err := bootstrap.NewServices(ctx, &cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	if err := bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	}); err != nil {
		logger.Error("soc-worker exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("soc-worker stopped")
}
