// Package detection runs detection rules against indexed evidence: it
// compiles each rule's KQL-lite query, evaluates it with the strategy
// matching the rule's type, deduplicates fires against already-open
// alerts, and records an audit trail of every run.
package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/kql"
	"github.com/target/soc-core/internal/search"
)

// AlertSink persists fired alerts, merging into an existing open alert
// when the fingerprint has already fired within its dedup window.
type AlertSink interface {
	Fire(ctx context.Context, candidate AlertCandidate, severity model.AlertSeverity, rule *model.DetectionRule) (*model.Alert, error)
}

// RuleExecutionSink records the outcome of a single rule run for audit.
type RuleExecutionSink interface {
	Record(ctx context.Context, exec *model.RuleExecution) error
}

// EngineOptions configures a new Engine.
type EngineOptions struct {
	Search     search.Service
	Dedup      *DedupCache
	Alerts     AlertSink
	Executions RuleExecutionSink
	Indices    []string
	Evaluators map[model.RuleType]Evaluator
	Now        func() time.Time
}

// Engine evaluates detection rules and turns matches into deduplicated alerts.
type Engine struct {
	search     search.Service
	dedup      *DedupCache
	alerts     AlertSink
	executions RuleExecutionSink
	indices    []string
	evaluators map[model.RuleType]Evaluator
	now        func() time.Time
}

// NewEngine builds an Engine. The threshold, aggregation, and spike
// strategies are registered by default; callers add the sequence and
// temporal_join evaluators (internal/detection/correlation) via
// EngineOptions.Evaluators. No yara evaluator exists.
func NewEngine(opts EngineOptions) *Engine {
	evaluators := map[model.RuleType]Evaluator{
		model.RuleTypeThreshold:   ThresholdEvaluator{},
		model.RuleTypeAggregation: AggregationEvaluator{},
		model.RuleTypeSpike:       SpikeEvaluator{},
	}
	for t, e := range opts.Evaluators {
		evaluators[t] = e
	}
	indices := opts.Indices
	if len(indices) == 0 {
		indices = []string{"ecs-*"}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		search:     opts.Search,
		dedup:      opts.Dedup,
		alerts:     opts.Alerts,
		executions: opts.Executions,
		indices:    indices,
		evaluators: evaluators,
		now:        now,
	}
}

// Run evaluates a single rule and fires any alerts its strategy surfaces
// that haven't already fired within the rule's dedup window.
func (e *Engine) Run(ctx context.Context, rule *model.DetectionRule) (*model.RuleExecution, []*model.Alert, error) {
	started := e.now()
	exec := &model.RuleExecution{
		RuleID:      rule.ID,
		WindowStart: started.Add(-rule.Lookback),
		WindowEnd:   started,
		CreatedAt:   started,
	}

	evaluator, ok := e.evaluators[rule.RuleType]
	if !ok {
		exec.Outcome = model.RuleExecutionError
		msg := fmt.Sprintf("no evaluator registered for rule type %q", rule.RuleType)
		exec.Error = &msg
		e.recordExecution(ctx, exec, started)
		return exec, nil, fmt.Errorf("detection: %s", msg)
	}

	dsl, compileErr := kql.CompileQuery(rule.Query)
	// A malformed query still compiles to a query_string fallback clause
	// per internal/kql.CompileQuery, so evaluation proceeds; the error is
	// only surfaced in the execution record for operators to notice.

	outcome, err := evaluator.Evaluate(ctx, EvalInput{Rule: rule, Search: e.search, Indices: e.indices, DSL: dsl, Now: started})
	if err != nil {
		exec.Outcome = model.RuleExecutionError
		msg := err.Error()
		exec.Error = &msg
		e.recordExecution(ctx, exec, started)
		return exec, nil, err
	}

	exec.EventsScanned = outcome.EventsScanned
	if compileErr != nil {
		msg := fmt.Sprintf("query fell back to query_string: %v", compileErr)
		exec.Error = &msg
	}

	if !outcome.Matched {
		exec.Outcome = model.RuleExecutionNoMatch
		e.recordExecution(ctx, exec, started)
		return exec, nil, nil
	}

	var fired []*model.Alert
	for _, candidate := range outcome.Candidates {
		alreadySeen, dedupErr := e.dedup.Seen(ctx, rule.ID, candidate.Fingerprint, rule.DedupWindow)
		if dedupErr != nil {
			return nil, nil, fmt.Errorf("detection: dedup check: %w", dedupErr)
		}
		if e.alerts == nil {
			continue
		}
		alert, fireErr := e.alerts.Fire(ctx, candidate, rule.Severity, rule)
		if fireErr != nil {
			return nil, nil, fmt.Errorf("detection: fire alert: %w", fireErr)
		}
		if alreadySeen {
			// Merged into the alert already open for this fingerprint; not a new fire.
			continue
		}
		fired = append(fired, alert)
	}

	exec.Outcome = model.RuleExecutionMatched
	exec.AlertsFired = len(fired)
	e.recordExecution(ctx, exec, started)
	return exec, fired, nil
}

func (e *Engine) recordExecution(ctx context.Context, exec *model.RuleExecution, started time.Time) {
	exec.DurationMS = e.now().Sub(started).Milliseconds()
	if e.executions == nil {
		return
	}
	_ = e.executions.Record(ctx, exec)
}
