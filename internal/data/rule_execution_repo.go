package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/target/soc-core/internal/detection"
	"github.com/target/soc-core/internal/domain/model"
)

// RuleExecutionRepo implements detection.RuleExecutionSink against the
// rule_execution table, the append-only audit trail of rule runs.
type RuleExecutionRepo struct {
	db *sql.DB
}

// NewRuleExecutionRepo creates a new RuleExecutionRepo.
func NewRuleExecutionRepo(db *sql.DB) *RuleExecutionRepo {
	return &RuleExecutionRepo{db: db}
}

var _ detection.RuleExecutionSink = (*RuleExecutionRepo)(nil)

// Record implements detection.RuleExecutionSink.
func (r *RuleExecutionRepo) Record(ctx context.Context, exec *model.RuleExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO rule_execution (id, rule_id, outcome, events_scanned, alerts_fired, error, duration_ms,
			window_start, window_end, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, q,
		exec.ID, exec.RuleID, exec.Outcome, exec.EventsScanned, exec.AlertsFired, exec.Error, exec.DurationMS,
		exec.WindowStart, exec.WindowEnd, exec.Result, exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule execution: %w", err)
	}
	return nil
}

// ListByRule returns the most recent executions for a rule, newest first.
func (r *RuleExecutionRepo) ListByRule(ctx context.Context, ruleID string, limit int) ([]*model.RuleExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, rule_id, outcome, events_scanned, alerts_fired, error, duration_ms, window_start, window_end,
			result, created_at
		FROM rule_execution WHERE rule_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rule executions: %w", err)
	}
	defer rows.Close()

	var execs []*model.RuleExecution
	for rows.Next() {
		var e model.RuleExecution
		if err := rows.Scan(&e.ID, &e.RuleID, &e.Outcome, &e.EventsScanned, &e.AlertsFired, &e.Error,
			&e.DurationMS, &e.WindowStart, &e.WindowEnd, &e.Result, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule execution: %w", err)
		}
		execs = append(execs, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule executions: %w", err)
	}
	return execs, nil
}
