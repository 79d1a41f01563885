package detection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/kql"
	"github.com/target/soc-core/internal/search"
)

// EvalInput bundles everything a Evaluator needs to judge one rule run
// against one lookback window.
type EvalInput struct {
	Rule    *model.DetectionRule
	Search  search.Service
	Indices []string
	DSL     kql.DSL
	Now     time.Time
}

func (in EvalInput) window() (start, end time.Time) {
	end = in.Now
	lookback := in.Rule.Lookback
	if lookback <= 0 {
		lookback = 5 * time.Minute
	}
	return end.Add(-lookback), end
}

// AlertCandidate is a prospective alert a strategy evaluator wants fired;
// the engine dedups it by Fingerprint before persisting.
type AlertCandidate struct {
	Fingerprint string
	Title       string
	Description string
	Entities    model.EntityFacets
	EventRefs   []string
	Context     map[string]any
	FiredAt     time.Time
}

// Outcome is the result of evaluating one rule over one window.
type Outcome struct {
	Matched       bool
	EventsScanned int
	Candidates    []AlertCandidate
}

// Evaluator implements one RuleType's evaluation strategy.
type Evaluator interface {
	Evaluate(ctx context.Context, in EvalInput) (*Outcome, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, in EvalInput) (*Outcome, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in EvalInput) (*Outcome, error) {
	return f(ctx, in)
}

// fingerprint derives a stable dedup key from a rule ID and a sorted set
// of discriminating strings (entities, group key, sequence steps...).
func fingerprint(ruleID string, parts ...string) string {
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(ruleID))
	for _, p := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:20]
}

func searchWindow(ctx context.Context, in EvalInput, dsl kql.DSL, start, end time.Time) ([]map[string]any, error) {
	windowed := kql.DSL{"bool": kql.DSL{"must": []kql.DSL{
		dsl,
		{"range": kql.DSL{"@timestamp": kql.DSL{"gte": start.Format(time.RFC3339), "lte": end.Format(time.RFC3339)}}},
	}}}
	res, err := in.Search.Search(ctx, search.SearchRequest{Indices: in.Indices, Query: windowed, Size: 10000})
	if err != nil {
		return nil, fmt.Errorf("detection: search window: %w", err)
	}
	sources := make([]map[string]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		sources = append(sources, hit.Source)
	}
	return sources, nil
}

func compareOp(op model.ComparisonOperator, actual, want float64) bool {
	switch op {
	case model.OpGreaterThan:
		return actual > want
	case model.OpGreaterThanOrEqual:
		return actual >= want
	case model.OpLessThan:
		return actual < want
	case model.OpLessThanOrEqual:
		return actual <= want
	case model.OpEqual:
		return actual == want
	default:
		return false
	}
}

// ThresholdEvaluator fires when the raw count of matching events in the
// window crosses the configured comparison.
type ThresholdEvaluator struct{}

func (ThresholdEvaluator) Evaluate(ctx context.Context, in EvalInput) (*Outcome, error) {
	var cfg model.ThresholdConfig
	if err := json.Unmarshal(in.Rule.Config, &cfg); err != nil {
		return nil, fmt.Errorf("detection: invalid threshold config: %w", err)
	}
	start, end := in.window()
	sources, err := searchWindow(ctx, in, in.DSL, start, end)
	if err != nil {
		return nil, err
	}
	out := &Outcome{EventsScanned: len(sources)}
	if !compareOp(cfg.Operator, float64(len(sources)), float64(cfg.Count)) {
		return out, nil
	}
	hosts, users, ips := entitiesFrom(sources)
	refs := eventRefs(sources)
	out.Matched = true
	out.Candidates = []AlertCandidate{{
		Fingerprint: fingerprint(in.Rule.ID, "threshold"),
		Title:       in.Rule.Name,
		Description: fmt.Sprintf("%d matching events in the last %s (threshold %s %d)", len(sources), in.Rule.Lookback, cfg.Operator, cfg.Count),
		Entities:    model.EntityFacets{Hosts: hosts, Users: users, IPs: ips},
		EventRefs:   refs,
		FiredAt:     end,
	}}
	return out, nil
}

// AggregationEvaluator groups matching events by a field and fires one
// alert per group whose aggregate satisfies the having condition.
type AggregationEvaluator struct{}

func (AggregationEvaluator) Evaluate(ctx context.Context, in EvalInput) (*Outcome, error) {
	var cfg model.AggregationConfig
	if err := json.Unmarshal(in.Rule.Config, &cfg); err != nil {
		return nil, fmt.Errorf("detection: invalid aggregation config: %w", err)
	}
	start, end := in.window()
	sources, err := searchWindow(ctx, in, in.DSL, start, end)
	if err != nil {
		return nil, err
	}
	out := &Outcome{EventsScanned: len(sources)}

	groups := make(map[string][]map[string]any)
	for _, s := range sources {
		key := fieldString(s, cfg.GroupBy)
		groups[key] = append(groups[key], s)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		members := groups[key]
		value := aggregate(cfg.Aggregate, cfg.Field, members)
		if !compareOp(cfg.Operator, value, cfg.Having) {
			continue
		}
		hosts, users, ips := entitiesFrom(members)
		out.Matched = true
		out.Candidates = append(out.Candidates, AlertCandidate{
			Fingerprint: fingerprint(in.Rule.ID, "aggregation", cfg.GroupBy, key),
			Title:       in.Rule.Name,
			Description: fmt.Sprintf("%s(%s) = %.2f for %s=%q (having %s %.2f)", cfg.Aggregate, cfg.Field, value, cfg.GroupBy, key, cfg.Operator, cfg.Having),
			Entities:    model.EntityFacets{Hosts: hosts, Users: users, IPs: ips},
			EventRefs:   eventRefs(members),
			FiredAt:     end,
			Context:     map[string]any{"group_by": cfg.GroupBy, "group_value": key, "aggregate": value},
		})
	}
	return out, nil
}

func aggregate(kind, field string, members []map[string]any) float64 {
	switch kind {
	case "count":
		return float64(len(members))
	case "distinct_count":
		distinct := make(map[string]bool, len(members))
		for _, m := range members {
			distinct[fieldString(m, field)] = true
		}
		return float64(len(distinct))
	case "sum", "avg":
		var sum float64
		for _, m := range members {
			if v, ok := fieldFloat(m, field); ok {
				sum += v
			}
		}
		if kind == "avg" && len(members) > 0 {
			return sum / float64(len(members))
		}
		return sum
	default:
		return float64(len(members))
	}
}

// SpikeEvaluator compares the current window's volume to a trailing
// baseline and fires on a relative increase.
type SpikeEvaluator struct{}

func (SpikeEvaluator) Evaluate(ctx context.Context, in EvalInput) (*Outcome, error) {
	var cfg model.SpikeConfig
	if err := json.Unmarshal(in.Rule.Config, &cfg); err != nil {
		return nil, fmt.Errorf("detection: invalid spike config: %w", err)
	}
	now := in.Now
	currentStart := now.Add(-cfg.CurrentWindow)
	baselineEnd := currentStart
	baselineStart := baselineEnd.Add(-cfg.BaselineWindow)

	current, err := searchWindow(ctx, in, in.DSL, currentStart, now)
	if err != nil {
		return nil, err
	}
	baseline, err := searchWindow(ctx, in, in.DSL, baselineStart, baselineEnd)
	if err != nil {
		return nil, err
	}

	out := &Outcome{EventsScanned: len(current) + len(baseline)}

	currentCount := len(current)
	if currentCount < cfg.MinCurrentCount {
		return out, nil
	}

	baselineAvgPerWindow := float64(len(baseline))
	if cfg.BaselineWindow > 0 && cfg.CurrentWindow > 0 {
		windows := float64(cfg.BaselineWindow) / float64(cfg.CurrentWindow)
		if windows > 0 {
			baselineAvgPerWindow = float64(len(baseline)) / windows
		}
	}
	if baselineAvgPerWindow <= 0 {
		baselineAvgPerWindow = 1
	}

	multiplier := float64(currentCount) / baselineAvgPerWindow
	if multiplier < cfg.MinMultiplier {
		return out, nil
	}

	hosts, users, ips := entitiesFrom(current)
	out.Matched = true
	out.Candidates = []AlertCandidate{{
		Fingerprint: fingerprint(in.Rule.ID, "spike"),
		Title:       in.Rule.Name,
		Description: fmt.Sprintf("volume spike: %d events vs baseline %.1f (%.1fx, threshold %.1fx)", currentCount, baselineAvgPerWindow, multiplier, cfg.MinMultiplier),
		Entities:    model.EntityFacets{Hosts: hosts, Users: users, IPs: ips},
		EventRefs:   eventRefs(current),
		FiredAt:     now,
		Context:     map[string]any{"current_count": currentCount, "baseline_avg": baselineAvgPerWindow, "multiplier": multiplier},
	}}
	return out, nil
}

func eventRefs(sources []map[string]any) []string {
	refs := make([]string, 0, len(sources))
	for _, s := range sources {
		if id := fieldString(s, "_id"); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}
