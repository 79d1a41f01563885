// Package enrichment extracts indicators of compromise from evidence text
// and enriches them against configured threat-intelligence providers,
// caching results to avoid repeat lookups.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/soc-core/internal/core"
	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/enrichment/ioc"
)

// Config controls caching, concurrency, and which registered providers
// participate in a lookup.
type Config struct {
	CacheTTL         time.Duration
	NegativeCacheTTL time.Duration
	MaxConcurrent    int
	RequestTimeout   time.Duration
	EnabledProviders []string
	Now              func() time.Time
}

// DefaultConfig mirrors the original pipeline's defaults: one hour of
// positive caching, five minutes of negative caching, ten concurrent
// provider lookups, thirty-second per-provider timeouts.
func DefaultConfig() Config {
	return Config{
		CacheTTL:         time.Hour,
		NegativeCacheTTL: 5 * time.Minute,
		MaxConcurrent:    10,
		RequestTimeout:   30 * time.Second,
		Now:              time.Now,
	}
}

// Pipeline coordinates IOC extraction and multi-provider enrichment.
type Pipeline struct {
	extractor *ioc.Extractor
	cache     core.CacheRepository
	providers []Provider
	enabled   map[string]bool
	cfg       Config
}

// New builds a Pipeline. cache may be nil to disable caching entirely.
func New(extractor *ioc.Extractor, cache core.CacheRepository, cfg Config) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	enabled := make(map[string]bool, len(cfg.EnabledProviders))
	for _, name := range cfg.EnabledProviders {
		enabled[name] = true
	}
	return &Pipeline{extractor: extractor, cache: cache, enabled: enabled, cfg: cfg}
}

// RegisterProvider adds a provider to the pipeline. When
// Config.EnabledProviders is non-empty, only providers named there
// participate in lookups; when it is empty, every registered provider does.
func (p *Pipeline) RegisterProvider(provider Provider) {
	p.providers = append(p.providers, provider)
}

// ExtractAndEnrich pulls every IOC out of text and enriches each unique one.
func (p *Pipeline) ExtractAndEnrich(ctx context.Context, text string) ([]model.EnrichmentResult, error) {
	matches := p.extractor.Extract(text)
	if len(matches) == 0 {
		return nil, nil
	}

	type key struct {
		t model.IOCType
		v string
	}
	unique := make(map[key]model.IOCMatch, len(matches))
	for _, m := range matches {
		unique[key{m.Type, m.Value}] = m
	}

	indicators := make([]model.IOCMatch, 0, len(unique))
	for _, m := range unique {
		indicators = append(indicators, m)
	}
	sort.Slice(indicators, func(i, j int) bool {
		if indicators[i].Type != indicators[j].Type {
			return indicators[i].Type < indicators[j].Type
		}
		return indicators[i].Value < indicators[j].Value
	})

	return p.EnrichBatch(ctx, indicators)
}

// EnrichBatch enriches a set of indicators concurrently, bounded by
// Config.MaxConcurrent.
func (p *Pipeline) EnrichBatch(ctx context.Context, indicators []model.IOCMatch) ([]model.EnrichmentResult, error) {
	results := make([]model.EnrichmentResult, len(indicators))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)

	for i, m := range indicators {
		i, m := i, m
		g.Go(func() error {
			result, err := p.EnrichIndicator(ctx, m.Value, m.Type)
			if err != nil {
				return err
			}
			results[i] = *result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EnrichIndicator enriches a single indicator, checking the cache first
// and querying every enabled provider concurrently on a miss.
func (p *Pipeline) EnrichIndicator(ctx context.Context, indicator string, indicatorType model.IOCType) (*model.EnrichmentResult, error) {
	if cached, ok := p.getCached(ctx, indicator, indicatorType); ok {
		return cached, nil
	}

	result := &model.EnrichmentResult{
		Indicator:    indicator,
		Type:         indicatorType,
		ProviderHits: make(map[string]model.ProviderHit),
	}

	active := p.activeProviders()
	if len(active) == 0 {
		result.Status = model.EnrichmentStatusSkipped
		result.Verdict = model.VerdictUnknown
		result.EnrichedAt = p.cfg.Now()
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	hits := make([]model.ProviderHit, len(active))
	for i, provider := range active {
		i, provider := i, provider
		g.Go(func() error {
			hits[i] = p.queryProvider(gctx, provider, indicator, indicatorType)
			return nil
		})
	}
	_ = g.Wait() // per-provider errors are captured on the hit, never fatal to the batch

	var errCount int
	for i, provider := range active {
		hit := hits[i]
		result.ProviderHits[provider.Name()] = hit
		if hit.Err != "" {
			errCount++
			continue
		}
		result.Verdict = model.MergeVerdicts(result.Verdict, hit.Verdict)
		result.Score += hit.Score
		result.Tags = append(result.Tags, hit.Tags...)
		result.Sources = append(result.Sources, provider.Name())
	}
	if len(result.Sources) > 0 {
		result.Score /= float64(len(result.Sources))
	}
	if result.Verdict == "" {
		result.Verdict = model.VerdictUnknown
	}

	switch {
	case len(result.Sources) > 0:
		result.Status = model.EnrichmentStatusOK
	case errCount == len(active):
		result.Status = model.EnrichmentStatusError
	default:
		result.Status = model.EnrichmentStatusOK
	}

	result.EnrichedAt = p.cfg.Now()
	p.cacheResult(ctx, result)
	return result, nil
}

func (p *Pipeline) activeProviders() []Provider {
	if len(p.enabled) == 0 {
		return p.providers
	}
	active := make([]Provider, 0, len(p.providers))
	for _, provider := range p.providers {
		if p.enabled[provider.Name()] {
			active = append(active, provider)
		}
	}
	return active
}

func (p *Pipeline) queryProvider(ctx context.Context, provider Provider, indicator string, indicatorType model.IOCType) model.ProviderHit {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	hit, err := provider.Enrich(ctx, indicator, indicatorType)
	if err != nil {
		return model.ProviderHit{Provider: provider.Name(), Err: err.Error()}
	}
	if hit == nil {
		return model.ProviderHit{Provider: provider.Name()}
	}
	hit.Provider = provider.Name()
	return *hit
}

func cacheKey(indicator string, t model.IOCType) string {
	return fmt.Sprintf("enrichment:%s:%s", t, indicator)
}

func (p *Pipeline) getCached(ctx context.Context, indicator string, t model.IOCType) (*model.EnrichmentResult, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, err := p.cache.Get(ctx, cacheKey(indicator, t))
	if err != nil || raw == nil {
		return nil, false
	}
	var result model.EnrichmentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	result.Status = model.EnrichmentStatusCached
	return &result, true
}

func (p *Pipeline) cacheResult(ctx context.Context, result *model.EnrichmentResult) {
	if p.cache == nil {
		return
	}
	ttl := p.cfg.CacheTTL
	if result.Status == model.EnrichmentStatusError {
		ttl = p.cfg.NegativeCacheTTL
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = p.cache.Set(ctx, cacheKey(result.Indicator, result.Type), raw, ttl)
}
