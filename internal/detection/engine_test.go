package detection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/search/memsearch"
)

type fakeAlertSink struct {
	fired []AlertCandidate
}

func (f *fakeAlertSink) Fire(_ context.Context, candidate AlertCandidate, severity model.AlertSeverity, rule *model.DetectionRule) (*model.Alert, error) {
	f.fired = append(f.fired, candidate)
	return &model.Alert{
		RuleName:    rule.Name,
		Title:       candidate.Title,
		Description: candidate.Description,
		Severity:    severity,
		Status:      model.AlertStatusOpen,
		Fingerprint: candidate.Fingerprint,
		Entities:    candidate.Entities,
		FirstSeenAt: candidate.FiredAt,
		LastSeenAt:  candidate.FiredAt,
	}, nil
}

func seedLoginFailures(store *memsearch.Store, base time.Time, host string, n int) {
	for i := 0; i < n; i++ {
		store.Seed("ecs-events", host+"-fail-"+time.Duration(i).String(), map[string]any{
			"@timestamp": base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			"event":      map[string]any{"action": "ssh_failed", "outcome": "failure"},
			"host":       map[string]any{"name": host},
			"user":       map[string]any{"name": "root"},
		})
	}
}

func newEngine(store *memsearch.Store, alerts *fakeAlertSink) *Engine {
	return NewEngine(EngineOptions{
		Search:  store,
		Dedup:   NewDedupCache(nil),
		Alerts:  alerts,
		Indices: []string{"ecs-events"},
		Now:     time.Now,
	})
}

func TestEngine_Threshold_FiresOnceThenDedups(t *testing.T) {
	store := memsearch.New()
	now := time.Now()
	seedLoginFailures(store, now.Add(-time.Minute), "WORK-01", 6)

	cfg, _ := json.Marshal(model.ThresholdConfig{Operator: model.OpGreaterThanOrEqual, Count: 5, Window: 5 * time.Minute})
	rule := &model.DetectionRule{
		ID:          "r1",
		Name:        "brute force ssh",
		RuleType:    model.RuleTypeThreshold,
		Query:       `event.action == "ssh_failed"`,
		Config:      cfg,
		Severity:    model.AlertSeverityHigh,
		Lookback:    5 * time.Minute,
		DedupWindow: 30 * time.Minute,
	}

	alerts := &fakeAlertSink{}
	engine := newEngine(store, alerts)

	exec, fired, err := engine.Run(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, model.RuleExecutionMatched, exec.Outcome)
	require.Len(t, fired, 1)
	assert.Equal(t, "WORK-01", fired[0].Entities.Hosts[0])

	exec2, fired2, err := engine.Run(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, model.RuleExecutionMatched, exec2.Outcome)
	assert.Empty(t, fired2, "second run within dedup window should not fire a new alert")
}

func TestEngine_Threshold_NoMatchBelowCount(t *testing.T) {
	store := memsearch.New()
	now := time.Now()
	seedLoginFailures(store, now.Add(-time.Minute), "WORK-02", 2)

	cfg, _ := json.Marshal(model.ThresholdConfig{Operator: model.OpGreaterThanOrEqual, Count: 5})
	rule := &model.DetectionRule{
		ID:       "r2",
		Name:     "brute force ssh",
		RuleType: model.RuleTypeThreshold,
		Query:    `event.action == "ssh_failed"`,
		Config:   cfg,
		Lookback: 5 * time.Minute,
	}

	engine := newEngine(store, &fakeAlertSink{})
	exec, fired, err := engine.Run(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, model.RuleExecutionNoMatch, exec.Outcome)
	assert.Empty(t, fired)
}

func TestEngine_Aggregation_PerHostGroups(t *testing.T) {
	store := memsearch.New()
	now := time.Now()
	seedLoginFailures(store, now.Add(-time.Minute), "WORK-03", 4)
	seedLoginFailures(store, now.Add(-time.Minute), "WORK-04", 1)

	cfg, _ := json.Marshal(model.AggregationConfig{GroupBy: "host.name", Aggregate: "count", Operator: model.OpGreaterThanOrEqual, Having: 3})
	rule := &model.DetectionRule{
		ID:       "r3",
		Name:     "per-host ssh failures",
		RuleType: model.RuleTypeAggregation,
		Query:    `event.action == "ssh_failed"`,
		Config:   cfg,
		Lookback: 5 * time.Minute,
	}

	engine := newEngine(store, &fakeAlertSink{})
	exec, fired, err := engine.Run(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, model.RuleExecutionMatched, exec.Outcome)
	require.Len(t, fired, 1)
	assert.Equal(t, "WORK-03", fired[0].Entities.Hosts[0])
}

func TestEngine_UnregisteredRuleType(t *testing.T) {
	store := memsearch.New()
	engine := newEngine(store, &fakeAlertSink{})
	rule := &model.DetectionRule{ID: "r4", RuleType: model.RuleTypeSequence, Query: "*", Lookback: time.Minute}

	_, _, err := engine.Run(context.Background(), rule)
	assert.Error(t, err)
}
