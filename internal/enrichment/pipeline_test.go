package enrichment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/enrichment/ioc"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	delete(c.data, key)
	return ok, nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *memCache) SetTTL(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (c *memCache) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *memCache) Health(context.Context) error { return nil }

type fakeProvider struct {
	name  string
	hit   *model.ProviderHit
	err   error
	calls int
	mu    sync.Mutex
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Enrich(context.Context, string, model.IOCType) (*model.ProviderHit, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.hit, nil
}

func TestPipeline_EnrichIndicator_CachesAfterFirstLookup(t *testing.T) {
	cache := newMemCache()
	provider := &fakeProvider{name: "opencti", hit: &model.ProviderHit{Verdict: model.VerdictMalicious, Score: 90, Tags: []string{"botnet"}}}

	p := New(ioc.New(ioc.DefaultOptions()), cache, Config{EnabledProviders: []string{"opencti"}})
	p.RegisterProvider(provider)

	result, err := p.EnrichIndicator(context.Background(), "203.0.113.9", model.IOCTypeIPv4)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusOK, result.Status)
	assert.Equal(t, model.VerdictMalicious, result.Verdict)
	assert.Contains(t, result.Tags, "botnet")

	result2, err := p.EnrichIndicator(context.Background(), "203.0.113.9", model.IOCTypeIPv4)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusCached, result2.Status)
	assert.Equal(t, 1, provider.calls, "second lookup should be served from cache, not re-query the provider")
}

func TestPipeline_EnrichIndicator_AllProvidersErrorYieldsErrorStatus(t *testing.T) {
	cache := newMemCache()
	provider := &fakeProvider{name: "opencti", err: assert.AnError}

	p := New(ioc.New(ioc.DefaultOptions()), cache, Config{EnabledProviders: []string{"opencti"}})
	p.RegisterProvider(provider)

	result, err := p.EnrichIndicator(context.Background(), "bad-domain.example-test-domain.io", model.IOCTypeDomain)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusError, result.Status)
	assert.Equal(t, model.VerdictUnknown, result.Verdict)
}

func TestPipeline_EnrichIndicator_NoProvidersSkips(t *testing.T) {
	p := New(ioc.New(ioc.DefaultOptions()), nil, Config{})
	result, err := p.EnrichIndicator(context.Background(), "203.0.113.9", model.IOCTypeIPv4)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusSkipped, result.Status)
}

func TestPipeline_ExtractAndEnrich_DeduplicatesIndicators(t *testing.T) {
	cache := newMemCache()
	provider := &fakeProvider{name: "opencti", hit: &model.ProviderHit{Verdict: model.VerdictClean, Score: 5}}

	p := New(ioc.New(ioc.DefaultOptions()), cache, Config{EnabledProviders: []string{"opencti"}})
	p.RegisterProvider(provider)

	text := "203.0.113.9 connected twice: 203.0.113.9 and 203.0.113.9 again"
	results, err := p.ExtractAndEnrich(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "203.0.113.9", results[0].Indicator)
	assert.Equal(t, 1, provider.calls)
}
