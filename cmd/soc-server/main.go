// Command soc-server runs the always-on detection and response side of the
// platform: the detection engine that evaluates rules against indexed
// evidence, the response runner that dispatches actions to CrowdStrike/
// Shuffle/etc., and the retention reaper. Which of those actually start is
// controlled by the SERVICES environment variable; this binary is simply the
// deployment unit ops points at for that role.
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

	logger.Info("starting soc-server", "services", bootstrap.GetEnabledServices(&cfg))

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
		logger.Error("soc-server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("soc-server stopped")
}
