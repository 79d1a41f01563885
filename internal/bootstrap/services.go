package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/soc-core/config"
	"github.com/target/soc-core/internal/adapters/storage"
	"github.com/target/soc-core/internal/jobs"
	"github.com/target/soc-core/internal/observability/notify"
	"github.com/target/soc-core/internal/observability/statsd"
	"github.com/target/soc-core/internal/search"
	"github.com/target/soc-core/internal/search/memsearch"
)

// ServiceContainer holds the process-wide singletons every enabled service
// mode's background loop draws from: one search façade so a parsing
// worker's indexed events are visible to a detection engine running in the
// same process, one job queue shared between the parsing and indexing
// lanes, and the observability fan-out.
type ServiceContainer struct {
	Search        search.Service
	JobsRepo      jobs.Repository
	Fetcher       jobs.EvidenceFetcher
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink statsd.Sink
	Notify      notify.Sink
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}
	metricsSink, err := buildMetricsSink(cfg.Metrics, obsLogger)
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
	}
	return ObservabilityContainer{
		MetricsSink: metricsSink,
		Notify:      buildNotifySink(cfg.Notifications, obsLogger),
	}
}

// NewServices builds the shared singletons backing every service mode. The
// in-memory search façade and job queue mean a single process running
// several service modes together (e.g. "parsing-worker,index-worker,
// detection-engine") sees a consistent view; separate processes each get
// their own in-memory state, a known limitation of the in-memory search
// façade documented alongside internal/search/memsearch.
func NewServices(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (ServiceContainer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := buildStorageBackend(ctx, cfg.Adapters.Storage)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build storage backend: %w", err)
	}
	return ServiceContainer{
		Search:        memsearch.New(),
		JobsRepo:      jobs.NewInMemoryRepository(time.Now),
		Fetcher:       storage.BackendFetcher{Backend: backend},
		Observability: buildObservability(logger, cfg.Observability),
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				if deps.logger != nil {
					deps.logger.WarnContext(
						ctx,
						"dropping background service error",
						"service",
						descriptor.name,
						"error",
						errMsg,
					)
				} else {
					slog.Default().WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
				}
			}
		}
	}()

	if deps.logger != nil {
		deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	} else {
		slog.Default().InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	}

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newDetectionEngineBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeDetectionEngine,
		name: "detection engine",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunDetectionEngine(ctx, DetectionEngineDeps{
				DB:          deps.cfg.DB,
				RedisClient: deps.cfg.RedisClient,
				Search:      deps.cfg.Services.Search,
				Logger:      deps.logger,
				Config:      deps.cfg.Config.DetectionEngine,
			})
		},
	}
}

func newParsingWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeParsingWorker,
		name: "parsing worker",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunParsingWorker(ctx, ParsingWorkerDeps{
				Repo:    deps.cfg.Services.JobsRepo,
				Fetcher: deps.cfg.Services.Fetcher,
				Search:  deps.cfg.Services.Search,
				Logger:  deps.logger,
				Config:  deps.cfg.Config.ParsingWorker,
			})
		},
	}
}

func newIndexWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeIndexWorker,
		name: "index worker",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunIndexWorker(ctx, IndexWorkerDeps{
				Repo:   deps.cfg.Services.JobsRepo,
				Search: deps.cfg.Services.Search,
				Logger: deps.logger,
				Config: deps.cfg.Config.IndexWorker,
			})
		},
	}
}

func newEnrichmentWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeEnrichmentWorker,
		name: "enrichment worker",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunEnrichmentWorker(ctx, EnrichmentWorkerDeps{
				DB:          deps.cfg.DB,
				RedisClient: deps.cfg.RedisClient,
				Logger:      deps.logger,
				Adapters:    deps.cfg.Config.Adapters,
				Config:      deps.cfg.Config.EnrichmentWorker,
			})
		},
	}
}

func newResponseRunnerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeResponseRunner,
		name: "response runner",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunResponseRunner(ctx, ResponseRunnerDeps{
				DB:       deps.cfg.DB,
				Logger:   deps.logger,
				Adapters: deps.cfg.Config.Adapters,
				Config:   deps.cfg.Config.ResponseRunner,
				Notify:   deps.cfg.Services.Observability.Notify,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunReaper(ctx, ReaperDeps{
				DB:     deps.cfg.DB,
				Logger: deps.logger,
				Config: deps.cfg.Config.Reaper,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newDetectionEngineBackgroundService(deps),
		newParsingWorkerBackgroundService(deps),
		newIndexWorkerBackgroundService(deps),
		newEnrichmentWorkerBackgroundService(deps),
		newResponseRunnerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for every background service to finish.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
