package memsearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/soc-core/internal/kql"
	"github.com/target/soc-core/internal/search"
)

func seedAlerts(s *Store) {
	s.Seed("alerts", "1", map[string]any{"host": map[string]any{"name": "WORK-01"}, "event_type": "login", "severity": 30})
	s.Seed("alerts", "2", map[string]any{"host": map[string]any{"name": "WORK-02"}, "event_type": "logout", "severity": 80})
	s.Seed("alerts", "3", map[string]any{"host": map[string]any{"name": "WORK-01"}, "event_type": "logout", "severity": 10})
}

func TestStore_Search_TermMatch(t *testing.T) {
	s := New()
	seedAlerts(s)

	dsl, err := kql.CompileQuery(`host.name == "WORK-01"`)
	require.NoError(t, err)

	res, err := s.Search(context.Background(), search.SearchRequest{Indices: []string{"alerts"}, Query: dsl})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestStore_Search_RangeAndBool(t *testing.T) {
	s := New()
	seedAlerts(s)

	dsl, err := kql.CompileQuery(`severity >= 50 and event_type == "logout"`)
	require.NoError(t, err)

	res, err := s.Search(context.Background(), search.SearchRequest{Indices: []string{"alerts"}, Query: dsl})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "2", res.Hits[0].ID)
}

func TestStore_Bulk_ThenCount(t *testing.T) {
	s := New()
	result, err := s.Bulk(context.Background(), []search.BulkAction{
		{Index: "events", ID: "a", Source: map[string]any{"event_type": "login"}},
		{Index: "events", ID: "b", Source: map[string]any{"event_type": "login"}},
		{Index: "events", ID: "", Source: map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)
	assert.Len(t, result.Errors, 1)

	dsl, err := kql.CompileQuery(`event_type == "login"`)
	require.NoError(t, err)
	count, err := s.Count(context.Background(), "events", dsl)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_DeleteByQuery(t *testing.T) {
	s := New()
	seedAlerts(s)

	dsl, err := kql.CompileQuery(`event_type == "logout"`)
	require.NoError(t, err)

	deleted, err := s.DeleteByQuery(context.Background(), "alerts", dsl)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := s.Count(context.Background(), "alerts", kql.DSL{"match_all": kql.DSL{}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_Reindex(t *testing.T) {
	s := New()
	seedAlerts(s)

	result, err := s.Reindex(context.Background(), "alerts", "alerts-archive", kql.DSL{"match_all": kql.DSL{}})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Created)

	stats, err := s.CatIndices(context.Background(), "*")
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}

func TestStore_Search_InOperator(t *testing.T) {
	s := New()
	seedAlerts(s)

	dsl, err := kql.CompileQuery(`event_type in ("login", "logout")`)
	require.NoError(t, err)

	res, err := s.Search(context.Background(), search.SearchRequest{Indices: []string{"alerts"}, Query: dsl})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
}
