package bootstrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/soc-core/config"
	"github.com/target/soc-core/internal/adapters/crowdstrike"
	"github.com/target/soc-core/internal/adapters/shuffle"
	"github.com/target/soc-core/internal/adapters/storage"
	"github.com/target/soc-core/internal/core"
	"github.com/target/soc-core/internal/data"
	"github.com/target/soc-core/internal/detection"
	"github.com/target/soc-core/internal/detection/correlation"
	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/ecs"
	"github.com/target/soc-core/internal/enrichment"
	"github.com/target/soc-core/internal/enrichment/ioc"
	"github.com/target/soc-core/internal/enrichment/providers"
	"github.com/target/soc-core/internal/jobs"
	"github.com/target/soc-core/internal/observability/notify"
	"github.com/target/soc-core/internal/observability/notify/pagerduty"
	"github.com/target/soc-core/internal/observability/notify/slack"
	"github.com/target/soc-core/internal/observability/statsd"
	"github.com/target/soc-core/internal/parsers"
	"github.com/target/soc-core/internal/response"
	"github.com/target/soc-core/internal/search"
	"github.com/target/soc-core/internal/search/memsearch"
)

// buildNotifySink fans failure notifications out to every enabled channel.
// Returns nil when notifications are disabled entirely, matching the
// teacher's pattern of leaving optional sinks nil rather than installing a
// no-op.
func buildNotifySink(cfg config.ObservabilityNotificationsConfig, logger *slog.Logger) notify.Sink {
	if !cfg.Enabled {
		return nil
	}

	var sinks []notify.Sink
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			Channel:       cfg.Slack.Channel,
			Username:      cfg.Slack.Username,
			Timeout:       cfg.Timeout,
			RetryLimit:    cfg.RetryLimit,
			SiteURLPrefix: cfg.Slack.SiteURLPrefix,
		})
		if err != nil {
			logger.Warn("slack notifier disabled: invalid configuration", "error", err)
		} else {
			sinks = append(sinks, client)
		}
	}
	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Warn("pagerduty notifier disabled: invalid configuration", "error", err)
		} else {
			sinks = append(sinks, client)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return fanOutSink(sinks)
}

// fanOutSink delivers a JobFailurePayload to every wrapped sink without
// short-circuiting on a delivery error, and returns the first error seen.
type fanOutSink []notify.Sink

func (f fanOutSink) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	var firstErr error
	for _, sink := range f {
		if err := sink.SendJobFailure(ctx, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildStorageBackend constructs and connects the configured evidence
// storage backend.
func buildStorageBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	var backend storage.Backend
	switch cfg.Backend {
	case config.StorageBackendS3:
		backend = storage.NewS3Backend(storage.S3Config{
			Bucket:      cfg.Bucket,
			Region:      cfg.Region,
			AccessKey:   cfg.AccessKey,
			SecretKey:   cfg.SecretKey,
			EndpointURL: cfg.EndpointURL,
		})
	default:
		backend = storage.NewLocalBackend(cfg.LocalDir)
	}
	if err := backend.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect storage backend: %w", err)
	}
	return backend, nil
}

// DetectionEngineDeps assembles everything RunDetectionEngine needs to
// evaluate detection rules against indexed evidence.
type DetectionEngineDeps struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Search      search.Service
	Logger      *slog.Logger
	Config      config.DetectionEngineConfig
}

// RunDetectionEngine polls for due detection rules and evaluates each with
// the shared Engine, firing deduplicated alerts and recording an audit
// trail of every run.
func RunDetectionEngine(ctx context.Context, deps DetectionEngineDeps) error {
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = memsearch.New()
	}

	engine := detection.NewEngine(detection.EngineOptions{
		Search:     searchSvc,
		Dedup:      detection.NewDedupCache(data.NewRedisCacheRepo(deps.RedisClient)),
		Alerts:     data.NewAlertRepo(deps.DB),
		Executions: data.NewRuleExecutionRepo(deps.DB),
		Indices:    deps.Config.Indices,
		Evaluators: map[model.RuleType]detection.Evaluator{
			model.RuleTypeSequence:     correlation.SequenceEvaluator{},
			model.RuleTypeTemporalJoin: correlation.TemporalJoinEvaluator{},
		},
	})

	runner := detection.NewRunner(detection.RunnerOptions{
		Engine:       engine,
		Rules:        data.NewDetectionRuleRepo(deps.DB),
		TickInterval: deps.Config.TickInterval,
		Concurrency:  deps.Config.Concurrency,
		Logger:       deps.Logger,
	})
	return runner.Run(ctx)
}

// ParsingWorkerDeps assembles everything RunParsingWorker needs to consume
// JobTypeParseEvidence jobs.
type ParsingWorkerDeps struct {
	Repo    jobs.Repository
	Fetcher jobs.EvidenceFetcher
	Search  search.Service
	Logger  *slog.Logger
	Config  config.ParsingWorkerConfig
}

// RunParsingWorker starts the evidence-parsing job runner: fetch the raw
// artifact, parse it, normalize each event into ECS, and bulk-index the
// result.
func RunParsingWorker(ctx context.Context, deps ParsingWorkerDeps) error {
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = memsearch.New()
	}
	handler := &jobs.ParseEvidenceHandler{
		Fetcher:    deps.Fetcher,
		Registry:   parsers.NewDefaultRegistry(),
		Normalizer: ecs.NewNormalizer(),
		Search:     searchSvc,
	}
	runner, err := jobs.NewRunner(jobs.RunnerOptions{
		Repo:        deps.Repo,
		Logger:      deps.Logger,
		Lease:       deps.Config.JobLease,
		Concurrency: deps.Config.Concurrency,
		JobType:     model.JobTypeParseEvidence,
		Handler:     handler.Handle,
	})
	if err != nil {
		return fmt.Errorf("create parsing worker runner: %w", err)
	}
	return runner.Run(ctx)
}

// IndexWorkerDeps assembles everything RunIndexWorker needs to consume
// JobTypeIndexEvents jobs.
type IndexWorkerDeps struct {
	Repo   jobs.Repository
	Search search.Service
	Logger *slog.Logger
	Config config.IndexWorkerConfig
}

// RunIndexWorker starts the bulk-indexing job runner for pre-normalized ECS
// documents.
func RunIndexWorker(ctx context.Context, deps IndexWorkerDeps) error {
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = memsearch.New()
	}
	handler := &jobs.IndexEventsHandler{Search: searchSvc}
	runner, err := jobs.NewRunner(jobs.RunnerOptions{
		Repo:        deps.Repo,
		Logger:      deps.Logger,
		Lease:       deps.Config.JobLease,
		Concurrency: deps.Config.Concurrency,
		JobType:     model.JobTypeIndexEvents,
		Handler:     handler.Handle,
	})
	if err != nil {
		return fmt.Errorf("create index worker runner: %w", err)
	}
	return runner.Run(ctx)
}

// EnrichmentWorkerDeps assembles everything RunEnrichmentWorker needs.
type EnrichmentWorkerDeps struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Adapters    config.AdaptersConfig
	Config      config.EnrichmentWorkerConfig
}

// enrichmentPollInterval is how often the enrichment worker checks for
// newly-fired alerts to extract indicators from. There is no job-queue lane
// for enrichment -- model.JobType only covers evidence parsing and bulk
// indexing -- so this runs as a plain poll loop over recently-fired alerts
// rather than a jobs.Runner consumer.
const enrichmentPollInterval = 10 * time.Second

// RunEnrichmentWorker polls for recently-fired alerts, extracts IOCs out of
// their title/description/event context, enriches each against the
// configured threat-intel providers, and persists the results onto the
// alert's metadata column.
func RunEnrichmentWorker(ctx context.Context, deps EnrichmentWorkerDeps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	alerts := data.NewAlertRepo(deps.DB)
	var cache core.CacheRepository
	if deps.RedisClient != nil {
		cache = data.NewRedisCacheRepo(deps.RedisClient)
	}

	pipeline := enrichment.New(ioc.New(ioc.DefaultOptions()), cache, enrichment.Config{
		CacheTTL:         deps.Config.CacheTTL,
		NegativeCacheTTL: deps.Config.CacheNegativeTTL,
		MaxConcurrent:    deps.Config.MaxConcurrent,
		RequestTimeout:   deps.Config.RequestTimeout,
		EnabledProviders: deps.Config.EnabledProviders,
	})
	if deps.Adapters.OpenCTI.Enabled {
		pipeline.RegisterProvider(providers.NewOpenCTIProvider(deps.Adapters.OpenCTI.BaseURL, deps.Adapters.OpenCTI.Token, nil))
	}

	ticker := time.NewTicker(enrichmentPollInterval)
	defer ticker.Stop()

	since := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			since = enrichAlertsSince(ctx, alerts, pipeline, logger, since, now.UTC())
		}
	}
}

func enrichAlertsSince(ctx context.Context, alerts *data.AlertRepo, pipeline *enrichment.Pipeline, logger *slog.Logger, since, now time.Time) time.Time {
	fired, err := alerts.ListSince(ctx, since, 100)
	if err != nil {
		logger.ErrorContext(ctx, "enrichment: list alerts since", "error", err)
		return since
	}
	for _, alert := range fired {
		text := alert.Title + "\n" + alert.Description + "\n" + string(alert.EventContext)
		results, err := pipeline.ExtractAndEnrich(ctx, text)
		if err != nil {
			logger.ErrorContext(ctx, "enrichment: extract and enrich", "alert_id", alert.ID, "error", err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		metadata, err := json.Marshal(map[string]any{"enrichment": results})
		if err != nil {
			logger.ErrorContext(ctx, "enrichment: encode metadata", "alert_id", alert.ID, "error", err)
			continue
		}
		if err := alerts.UpdateMetadata(ctx, alert.ID, metadata); err != nil {
			logger.ErrorContext(ctx, "enrichment: update alert metadata", "alert_id", alert.ID, "error", err)
		}
	}
	return now
}

// ResponseRunnerDeps assembles everything RunResponseRunner needs to
// dispatch pending response actions to their configured adapters.
type ResponseRunnerDeps struct {
	DB       *sql.DB
	Logger   *slog.Logger
	Adapters config.AdaptersConfig
	Config   config.ResponseRunnerConfig
	Notify   notify.Sink
}

// responsePollInterval is how often the response runner checks for pending
// ResponseAction rows to dispatch.
const responsePollInterval = 3 * time.Second

// RunResponseRunner polls for pending response actions and executes each
// against its registered role adapter (CrowdStrike collector, Shuffle SOAR),
// recording an audit trail either way.
func RunResponseRunner(ctx context.Context, deps ResponseRunnerDeps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := data.NewResponseActionRepo(deps.DB)
	executor := &response.Executor{
		Repo:       repo,
		Audit:      data.NewAuditLogRepo(deps.DB),
		Collectors: map[string]response.Collector{},
		SOARs:      map[string]response.SOAR{},
		Notifiers:  map[string]response.Notifier{},
		Logger:     logger,
	}

	if deps.Adapters.CrowdStrike.Enabled {
		executor.Collectors["crowdstrike"] = crowdstrike.New(crowdstrike.Config{
			ClientID:     deps.Adapters.CrowdStrike.ClientID,
			ClientSecret: deps.Adapters.CrowdStrike.ClientSecret,
			Region:       deps.Adapters.CrowdStrike.Region,
			BaseURL:      deps.Adapters.CrowdStrike.BaseURL,
		})
	}
	if deps.Adapters.Shuffle.Enabled {
		executor.SOARs["shuffle"] = shuffle.New(shuffle.Config{
			BaseURL: deps.Adapters.Shuffle.BaseURL,
			APIKey:  deps.Adapters.Shuffle.APIKey,
		})
	}

	sem := make(chan struct{}, max(deps.Config.Concurrency, 1))
	ticker := time.NewTicker(responsePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			dispatchPendingResponseActions(ctx, repo, executor, sem, logger, deps.Notify)
		}
	}
}

func dispatchPendingResponseActions(ctx context.Context, repo *data.ResponseActionRepo, executor *response.Executor, sem chan struct{}, logger *slog.Logger, notifySink notify.Sink) {
	pending, err := repo.ListPending(ctx, cap(sem)*4)
	if err != nil {
		logger.ErrorContext(ctx, "response runner: list pending actions", "error", err)
		return
	}
	for _, action := range pending {
		sem <- struct{}{}
		go func(action *model.ResponseAction) {
			defer func() { <-sem }()
			if err := executor.Execute(ctx, action); err != nil {
				logger.WarnContext(ctx, "response runner: dispatch failed", "response_action_id", action.ID, "error", err)
				notifyResponseFailure(ctx, notifySink, action, err)
			}
		}(action)
	}
}

func notifyResponseFailure(ctx context.Context, sink notify.Sink, action *model.ResponseAction, dispatchErr error) {
	if sink == nil {
		return
	}
	_ = sink.SendJobFailure(ctx, notify.JobFailurePayload{
		JobID:      action.ID,
		JobType:    string(action.Type),
		Error:      dispatchErr.Error(),
		Severity:   notify.SeverityCritical,
		OccurredAt: time.Now().UTC(),
	})
}

// ReaperDeps assembles everything RunReaper needs.
type ReaperDeps struct {
	DB     *sql.DB
	Logger *slog.Logger
	Config config.ReaperConfig
}

// RunReaper periodically prunes audit_log rows older than the configured
// retention window. Parsing-job retention (PendingMaxAge/CompletedMaxAge/
// FailedMaxAge) has no effect in this build: there is no Postgres-backed
// jobs.Repository, so ParsingJob rows never persist past process restart.
func RunReaper(ctx context.Context, deps ReaperDeps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditLog := data.NewAuditLogRepo(deps.DB)

	ticker := time.NewTicker(deps.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-deps.Config.AuditLogMaxAge)
			removed, err := auditLog.Reap(ctx, cutoff, deps.Config.BatchSize)
			if err != nil {
				logger.ErrorContext(ctx, "reaper: audit log reap failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.InfoContext(ctx, "reaper: audit log reaped", "removed", removed, "cutoff", cutoff)
			}
		}
	}
}

// buildMetricsSink constructs the shared statsd client used by every
// service mode's background loop, returning nil when metrics are disabled.
func buildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (statsd.Sink, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  "soc_core",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}
	return client, nil
}
