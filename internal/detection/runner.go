package detection

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/target/soc-core/internal/domain/model"
)

// RuleLister returns the set of enabled rules whose interval has elapsed
// as of now, ordered however the backing store prefers (e.g. by last_run_at).
type RuleLister interface {
	ListDue(ctx context.Context, now time.Time) ([]*model.DetectionRule, error)
	MarkRun(ctx context.Context, ruleID string, at time.Time) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Engine      *Engine
	Rules       RuleLister
	TickInterval time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// Runner polls for due rules on a fixed tick and evaluates them with a
// bounded pool of concurrent workers, mirroring the scheduler/job-runner
// split used elsewhere in this codebase: a lightweight tick loop handing
// work off to a worker pool rather than one goroutine per rule.
type Runner struct {
	engine   *Engine
	rules    RuleLister
	interval time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// NewRunner builds a Runner with sane defaults.
func NewRunner(opts RunnerOptions) *Runner {
	interval := opts.TickInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:   opts.Engine,
		rules:    opts.Rules,
		interval: interval,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		logger:   logger,
	}
}

// Run blocks, ticking every interval until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	now := time.Now()
	due, err := r.rules.ListDue(ctx, now)
	if err != nil {
		r.logger.Error("detection: list due rules", "error", err)
		return
	}

	for _, rule := range due {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(rule *model.DetectionRule) {
			defer r.sem.Release(1)
			r.evaluate(ctx, rule, now)
		}(rule)
	}
}

func (r *Runner) evaluate(ctx context.Context, rule *model.DetectionRule, now time.Time) {
	exec, alerts, err := r.engine.Run(ctx, rule)
	if err != nil {
		r.logger.Error("detection: rule evaluation failed", "rule_id", rule.ID, "rule_name", rule.Name, "error", err)
	} else if exec != nil {
		r.logger.Info("detection: rule evaluated", "rule_id", rule.ID, "outcome", exec.Outcome, "events_scanned", exec.EventsScanned, "alerts_fired", len(alerts))
	}
	if markErr := r.rules.MarkRun(ctx, rule.ID, now); markErr != nil {
		r.logger.Error("detection: mark rule run", "rule_id", rule.ID, "error", markErr)
	}
}
