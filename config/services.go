package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeDetectionEngine runs the detection rule scheduler and evaluation pool.
	ServiceModeDetectionEngine ServiceMode = "detection-engine"
	// ServiceModeParsingWorker runs the evidence-parsing job runner.
	ServiceModeParsingWorker ServiceMode = "parsing-worker"
	// ServiceModeIndexWorker runs the bulk-indexing job runner.
	ServiceModeIndexWorker ServiceMode = "index-worker"
	// ServiceModeEnrichmentWorker runs the IOC enrichment poll loop over recently fired alerts.
	ServiceModeEnrichmentWorker ServiceMode = "enrichment-worker"
	// ServiceModeResponseRunner runs the response-action executor.
	ServiceModeResponseRunner ServiceMode = "response-runner"
	// ServiceModeReaper runs periodic deletion of expired audit_log rows; parsing jobs are not reaped.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeDetectionEngine,
		ServiceModeParsingWorker,
		ServiceModeIndexWorker,
		ServiceModeEnrichmentWorker,
		ServiceModeResponseRunner,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeDetectionEngine,
			ServiceModeParsingWorker,
			ServiceModeIndexWorker,
			ServiceModeEnrichmentWorker,
			ServiceModeResponseRunner,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: detection-engine, parsing-worker, index-worker, enrichment-worker, response-runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DetectionEngineConfig contains detection rule scheduler/evaluator configuration.
type DetectionEngineConfig struct {
	// TickInterval is how often the rule scheduler polls for due rules.
	TickInterval time.Duration `env:"DETECTION_TICK_INTERVAL" envDefault:"15s"`

	// Concurrency is the number of rules evaluated concurrently.
	Concurrency int `env:"DETECTION_CONCURRENCY" envDefault:"4"`

	// Indices lists the search indices scanned by rule evaluation.
	Indices []string `env:"DETECTION_INDICES" envDefault:"ecs-*"`
}

// Sanitize applies guardrails to detection engine configuration values.
func (d *DetectionEngineConfig) Sanitize() {
	if d.TickInterval < time.Second {
		d.TickInterval = 15 * time.Second
	}
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if len(d.Indices) == 0 {
		d.Indices = []string{"ecs-*"}
	}
}

// ParsingWorkerConfig contains evidence-parsing job runner configuration.
type ParsingWorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"PARSING_WORKER_CONCURRENCY" envDefault:"4"`

	// JobLease is the duration to lease a parsing job.
	JobLease time.Duration `env:"PARSING_WORKER_JOB_LEASE" envDefault:"30s"`
}

// Sanitize applies guardrails to parsing worker configuration values.
func (p *ParsingWorkerConfig) Sanitize() {
	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	if p.JobLease < 5*time.Second {
		p.JobLease = 5 * time.Second
	}
}

// IndexWorkerConfig contains bulk-indexing job runner configuration.
type IndexWorkerConfig struct {
	Concurrency int           `env:"INDEX_WORKER_CONCURRENCY" envDefault:"2"`
	JobLease    time.Duration `env:"INDEX_WORKER_JOB_LEASE"   envDefault:"30s"`
}

// Sanitize applies guardrails to index worker configuration values.
func (i *IndexWorkerConfig) Sanitize() {
	if i.Concurrency < 1 {
		i.Concurrency = 1
	}
	if i.JobLease < 5*time.Second {
		i.JobLease = 5 * time.Second
	}
}

// EnrichmentWorkerConfig contains IOC enrichment configuration.
type EnrichmentWorkerConfig struct {
	MaxConcurrent    int           `env:"ENRICHMENT_MAX_CONCURRENT"     envDefault:"10"`
	RequestTimeout   time.Duration `env:"ENRICHMENT_REQUEST_TIMEOUT"    envDefault:"30s"`
	CacheTTL         time.Duration `env:"ENRICHMENT_CACHE_TTL"          envDefault:"1h"`
	CacheNegativeTTL time.Duration `env:"ENRICHMENT_CACHE_NEGATIVE_TTL" envDefault:"5m"`
	EnabledProviders []string      `env:"ENRICHMENT_ENABLED_PROVIDERS"`
}

// Sanitize applies guardrails to enrichment worker configuration values.
func (e *EnrichmentWorkerConfig) Sanitize() {
	if e.MaxConcurrent < 1 {
		e.MaxConcurrent = 10
	}
	if e.RequestTimeout <= 0 {
		e.RequestTimeout = 30 * time.Second
	}
	if e.CacheTTL <= 0 {
		e.CacheTTL = time.Hour
	}
	if e.CacheNegativeTTL <= 0 {
		e.CacheNegativeTTL = 5 * time.Minute
	}
}

// ResponseRunnerConfig contains response-action executor configuration.
type ResponseRunnerConfig struct {
	Concurrency int           `env:"RESPONSE_RUNNER_CONCURRENCY" envDefault:"2"`
	JobLease    time.Duration `env:"RESPONSE_RUNNER_JOB_LEASE"   envDefault:"30s"`
	MaxRetries  int           `env:"RESPONSE_RUNNER_MAX_RETRIES" envDefault:"2"`
}

// Sanitize applies guardrails to response runner configuration values.
func (r *ResponseRunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.JobLease < 5*time.Second {
		r.JobLease = 5 * time.Second
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is a maximum age for pending jobs. RunReaper does not read it:
	// pending jobs are never marked failed by the reaper.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is a maximum age for completed jobs. RunReaper does not read it:
	// completed jobs are not deleted.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is a maximum age for failed jobs. RunReaper does not read it:
	// failed jobs are not deleted.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// AuditLogMaxAge is the maximum age for persisted audit_log rows before deletion.
	AuditLogMaxAge time.Duration `env:"REAPER_AUDIT_LOG_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.AuditLogMaxAge < 24*time.Hour {
		r.AuditLogMaxAge = 24 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// ServicesConfig groups all service-related configuration.
type ServicesConfig struct {
	// Services is a comma-delimited list of enabled services.
	// Valid values: detection-engine, parsing-worker, index-worker, enrichment-worker, response-runner, reaper
	Services string `env:"SERVICES" envDefault:"detection-engine" yaml:"services"`

	DetectionEngine DetectionEngineConfig
	ParsingWorker   ParsingWorkerConfig
	IndexWorker     IndexWorkerConfig
	EnrichmentWorker EnrichmentWorkerConfig
	ResponseRunner  ResponseRunnerConfig
	Reaper          ReaperConfig
}

// GetEnabledServices returns the enabled services based on the Services field.
func (s *ServicesConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(s.Services)
}

// IsDetectionEngineEnabled returns true if the detection engine service is enabled.
func (s *ServicesConfig) IsDetectionEngineEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDetectionEngine]
}

// IsParsingWorkerEnabled returns true if the parsing worker service is enabled.
func (s *ServicesConfig) IsParsingWorkerEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeParsingWorker]
}

// IsIndexWorkerEnabled returns true if the index worker service is enabled.
func (s *ServicesConfig) IsIndexWorkerEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeIndexWorker]
}

// IsEnrichmentWorkerEnabled returns true if the enrichment worker service is enabled.
func (s *ServicesConfig) IsEnrichmentWorkerEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeEnrichmentWorker]
}

// IsResponseRunnerEnabled returns true if the response runner service is enabled.
func (s *ServicesConfig) IsResponseRunnerEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeResponseRunner]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (s *ServicesConfig) IsReaperEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}

// Sanitize applies guardrails to services configuration values.
func (s *ServicesConfig) Sanitize() {
	s.DetectionEngine.Sanitize()
	s.ParsingWorker.Sanitize()
	s.IndexWorker.Sanitize()
	s.EnrichmentWorker.Sanitize()
	s.ResponseRunner.Sanitize()
	s.Reaper.Sanitize()
}
