package correlation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/soc-core/internal/detection"
	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/search/memsearch"
)

func seedEvent(store *memsearch.Store, id string, ts time.Time, action, host, user string) {
	store.Seed("ecs-events", id, map[string]any{
		"@timestamp": ts.Format(time.RFC3339),
		"event":      map[string]any{"action": action},
		"host":       map[string]any{"name": host},
		"user":       map[string]any{"name": user},
	})
}

func TestSequenceEvaluator_MatchesOrderedSteps(t *testing.T) {
	store := memsearch.New()
	base := time.Now().Add(-10 * time.Minute)
	seedEvent(store, "1", base, "login", "WORK-01", "alice")
	seedEvent(store, "2", base.Add(30*time.Second), "privilege_escalation", "WORK-01", "alice")

	cfg, _ := json.Marshal(model.SequenceConfig{
		Steps: []model.SequenceStep{
			{Query: `event.action == "login"`, Within: time.Minute},
			{Query: `event.action == "privilege_escalation"`, Within: time.Minute},
		},
		JoinOn:  "user.name",
		MaxSpan: 5 * time.Minute,
	})
	rule := &model.DetectionRule{ID: "seq1", Name: "login then escalation", RuleType: model.RuleTypeSequence, Config: cfg, Lookback: 30 * time.Minute}

	out, err := SequenceEvaluator{}.Evaluate(context.Background(), detection.EvalInput{
		Rule: rule, Search: store, Indices: []string{"ecs-events"}, Now: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, out.Matched)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "WORK-01", out.Candidates[0].Entities.Hosts[0])
}

func TestSequenceEvaluator_NoMatchWhenStepMissing(t *testing.T) {
	store := memsearch.New()
	base := time.Now().Add(-10 * time.Minute)
	seedEvent(store, "1", base, "login", "WORK-02", "bob")

	cfg, _ := json.Marshal(model.SequenceConfig{
		Steps: []model.SequenceStep{
			{Query: `event.action == "login"`, Within: time.Minute},
			{Query: `event.action == "privilege_escalation"`, Within: time.Minute},
		},
		JoinOn: "user.name",
	})
	rule := &model.DetectionRule{ID: "seq2", RuleType: model.RuleTypeSequence, Config: cfg, Lookback: 30 * time.Minute}

	out, err := SequenceEvaluator{}.Evaluate(context.Background(), detection.EvalInput{
		Rule: rule, Search: store, Indices: []string{"ecs-events"}, Now: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, out.Matched)
}

func TestTemporalJoinEvaluator_MatchesWithinWindow(t *testing.T) {
	store := memsearch.New()
	base := time.Now().Add(-5 * time.Minute)
	seedEvent(store, "1", base, "vpn_login", "WORK-03", "carol")
	seedEvent(store, "2", base.Add(90*time.Second), "admin_action", "WORK-03", "carol")

	cfg, _ := json.Marshal(model.TemporalJoinConfig{
		LeftQuery:  `event.action == "vpn_login"`,
		RightQuery: `event.action == "admin_action"`,
		JoinOn:     "user.name",
		Window:     2 * time.Minute,
	})
	rule := &model.DetectionRule{ID: "tj1", Name: "vpn then admin action", RuleType: model.RuleTypeTemporalJoin, Config: cfg, Lookback: 30 * time.Minute}

	out, err := TemporalJoinEvaluator{}.Evaluate(context.Background(), detection.EvalInput{
		Rule: rule, Search: store, Indices: []string{"ecs-events"}, Now: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, out.Matched)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "carol", out.Candidates[0].Entities.Users[0])
}

func TestTemporalJoinEvaluator_NoMatchOutsideWindow(t *testing.T) {
	store := memsearch.New()
	base := time.Now().Add(-5 * time.Minute)
	seedEvent(store, "1", base, "vpn_login", "WORK-04", "dave")
	seedEvent(store, "2", base.Add(10*time.Minute), "admin_action", "WORK-04", "dave")

	cfg, _ := json.Marshal(model.TemporalJoinConfig{
		LeftQuery:  `event.action == "vpn_login"`,
		RightQuery: `event.action == "admin_action"`,
		JoinOn:     "user.name",
		Window:     2 * time.Minute,
	})
	rule := &model.DetectionRule{ID: "tj2", RuleType: model.RuleTypeTemporalJoin, Config: cfg, Lookback: 30 * time.Minute}

	out, err := TemporalJoinEvaluator{}.Evaluate(context.Background(), detection.EvalInput{
		Rule: rule, Search: store, Indices: []string{"ecs-events"}, Now: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, out.Matched)
}
