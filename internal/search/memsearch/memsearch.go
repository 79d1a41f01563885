// Package memsearch is an in-memory implementation of search.Service. It is
// used by the tests and is the backend bootstrap wires for every service
// mode; state is per process and is not persisted.
package memsearch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/target/soc-core/internal/kql"
	"github.com/target/soc-core/internal/search"
)

type document struct {
	id     string
	source map[string]any
}

// Store is a thread-safe in-memory index set implementing search.Service.
type Store struct {
	mu      sync.RWMutex
	indices map[string]map[string]*document // index -> id -> doc
}

// New returns an empty Store.
func New() *Store {
	return &Store{indices: make(map[string]map[string]*document)}
}

var _ search.Service = (*Store)(nil)

// Seed inserts or overwrites a document directly, bypassing Bulk, for test setup.
func (s *Store) Seed(index, id string, source map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indices[index] == nil {
		s.indices[index] = make(map[string]*document)
	}
	s.indices[index][id] = &document{id: id, source: source}
}

func (s *Store) Search(_ context.Context, req search.SearchRequest) (*search.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []search.Hit
	for _, index := range req.Indices {
		for _, doc := range s.indices[index] {
			if matchDSL(req.Query, doc.source) {
				matched = append(matched, search.Hit{Index: index, ID: doc.id, Score: 1, Source: doc.source})
			}
		}
	}

	if len(req.Sort) > 0 {
		sortHits(matched, req.Sort)
	}

	total := len(matched)
	from := req.From
	if from > len(matched) {
		from = len(matched)
	}
	end := len(matched)
	if req.Size > 0 && from+req.Size < end {
		end = from + req.Size
	}

	return &search.SearchResult{Total: total, Hits: matched[from:end]}, nil
}

func (s *Store) Bulk(_ context.Context, actions []search.BulkAction) (*search.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &search.BulkResult{}
	for _, a := range actions {
		if a.Index == "" || a.ID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("missing index/id for action %v", a))
			continue
		}
		if s.indices[a.Index] == nil {
			s.indices[a.Index] = make(map[string]*document)
		}
		s.indices[a.Index][a.ID] = &document{id: a.ID, source: a.Source}
		result.Success++
	}
	return result, nil
}

func (s *Store) Count(ctx context.Context, index string, query kql.DSL) (int, error) {
	res, err := s.Search(ctx, search.SearchRequest{Indices: []string{index}, Query: query})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

func (s *Store) CatIndices(_ context.Context, pattern string) ([]search.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []search.IndexStats
	for idx, docs := range s.indices {
		if pattern != "" && pattern != "*" && !strings.Contains(idx, strings.Trim(pattern, "*")) {
			continue
		}
		out = append(out, search.IndexStats{Index: idx, DocsCount: len(docs), Health: "green"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) GetMapping(_ context.Context, index string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.indices[index]; !ok {
		return nil, fmt.Errorf("memsearch: index %q not found", index)
	}
	return map[string]any{"mappings": map[string]any{}}, nil
}

func (s *Store) CreateIndex(_ context.Context, name string, _, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indices[name] == nil {
		s.indices[name] = make(map[string]*document)
	}
	return nil
}

func (s *Store) Reindex(ctx context.Context, src, dest string, query kql.DSL) (*search.ReindexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &search.ReindexResult{}
	if s.indices[dest] == nil {
		s.indices[dest] = make(map[string]*document)
	}
	for id, doc := range s.indices[src] {
		if query != nil && !matchDSL(query, doc.source) {
			continue
		}
		result.Total++
		if _, exists := s.indices[dest][id]; exists {
			result.Updated++
		} else {
			result.Created++
		}
		s.indices[dest][id] = &document{id: id, source: doc.source}
	}
	return result, nil
}

func (s *Store) DeleteByQuery(_ context.Context, index string, query kql.DSL) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.indices[index]
	deleted := 0
	for id, doc := range docs {
		if matchDSL(query, doc.source) {
			delete(docs, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortHits(hits []search.Hit, clauses []search.SortClause) {
	sort.SliceStable(hits, func(i, j int) bool {
		for _, c := range clauses {
			vi := fieldValue(hits[i].Source, c.Field)
			vj := fieldValue(hits[j].Source, c.Field)
			cmp := compareAny(vi, vj)
			if cmp == 0 {
				continue
			}
			if c.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func compareAny(a, b any) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
