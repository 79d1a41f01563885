// Package search defines the façade the core uses to talk to a search
// backend. The only implementation in this module is the in-memory
// internal/search/memsearch; no OpenSearch/Elasticsearch client is included.
package search

import (
	"context"

	"github.com/target/soc-core/internal/kql"
)

// SearchRequest parameterizes a single query against one or more indices.
type SearchRequest struct {
	Indices []string
	Query   kql.DSL
	Size    int
	From    int
	Sort    []SortClause
	Aggs    map[string]kql.DSL
}

// SortClause orders results by a single field.
type SortClause struct {
	Field     string
	Ascending bool
}

// Hit is a single matched document.
type Hit struct {
	Index  string
	ID     string
	Score  float64
	Source map[string]any
}

// SearchResult is the outcome of a Search call.
type SearchResult struct {
	TookMS       int64
	Total        int
	Hits         []Hit
	Aggregations map[string]any
}

// BulkAction is a single indexing operation within a Bulk call.
type BulkAction struct {
	Index  string
	ID     string
	Source map[string]any
}

// BulkResult summarizes a Bulk call's outcome.
type BulkResult struct {
	Success int
	Errors  []string
}

// IndexStats describes one index as returned by CatIndices.
type IndexStats struct {
	Index     string
	DocsCount int
	StoreSize int64
	Health    string
}

// ReindexResult summarizes a Reindex call's outcome.
type ReindexResult struct {
	Total   int
	Created int
	Updated int
	Failures []string
}

// Service is the search façade the core depends on; bootstrap and the tests
// both point it at memsearch.
type Service interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Bulk(ctx context.Context, actions []BulkAction) (*BulkResult, error)
	Count(ctx context.Context, index string, query kql.DSL) (int, error)
	CatIndices(ctx context.Context, pattern string) ([]IndexStats, error)
	GetMapping(ctx context.Context, index string) (map[string]any, error)
	CreateIndex(ctx context.Context, name string, mappings, settings map[string]any) error
	Reindex(ctx context.Context, src, dest string, query kql.DSL) (*ReindexResult, error)
	DeleteByQuery(ctx context.Context, index string, query kql.DSL) (int, error)
}
