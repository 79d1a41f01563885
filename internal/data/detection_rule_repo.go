package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/target/soc-core/internal/domain/model"
)

// ErrDetectionRuleNotFound is returned when a detection rule id has no matching row.
var ErrDetectionRuleNotFound = errors.New("detection rule not found")

// DetectionRuleRepo implements detection.RuleLister against the
// detection_rule table, plus the CRUD operations an administrative
// surface needs to manage rules.
type DetectionRuleRepo struct {
	db *sql.DB
}

// NewDetectionRuleRepo creates a new DetectionRuleRepo.
func NewDetectionRuleRepo(db *sql.DB) *DetectionRuleRepo {
	return &DetectionRuleRepo{db: db}
}

// ListDue returns enabled rules whose interval has elapsed since last_run_at
// (or that have never run), the set detection.Runner.tick evaluates each
// pass. The interval comparison is done in Go rather than SQL since each
// rule carries its own interval (a BIGINT nanosecond count), which doesn't
// map cleanly onto a single parameterized WHERE clause.
func (r *DetectionRuleRepo) ListDue(ctx context.Context, now time.Time) ([]*model.DetectionRule, error) {
	const q = `
		SELECT id, name, description, rule_type, query, config, severity, enabled, interval, lookback,
			dedup_window, entity_mapping, mitre_tags, last_run_at, created_at, updated_at
		FROM detection_rule
		WHERE enabled
		ORDER BY last_run_at NULLS FIRST`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query enabled detection rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.DetectionRule
	for rows.Next() {
		rule, scanErr := scanDetectionRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		if rule.LastRunAt == nil || now.Sub(*rule.LastRunAt) >= rule.Interval {
			rules = append(rules, rule)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection rules: %w", err)
	}
	return rules, nil
}

// MarkRun records that a rule ran at the given time, so ListDue skips it
// until its interval elapses again.
func (r *DetectionRuleRepo) MarkRun(ctx context.Context, ruleID string, at time.Time) error {
	const q = `UPDATE detection_rule SET last_run_at = $2, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, ruleID, at)
	if err != nil {
		return fmt.Errorf("mark detection rule run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark detection rule run rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDetectionRuleNotFound
	}
	return nil
}

// List returns every detection rule regardless of enabled state, newest first,
// the set an administrative surface needs to review what's configured.
func (r *DetectionRuleRepo) List(ctx context.Context) ([]*model.DetectionRule, error) {
	const q = `
		SELECT id, name, description, rule_type, query, config, severity, enabled, interval, lookback,
			dedup_window, entity_mapping, mitre_tags, last_run_at, created_at, updated_at
		FROM detection_rule
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query detection rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.DetectionRule
	for rows.Next() {
		rule, scanErr := scanDetectionRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection rules: %w", err)
	}
	return rules, nil
}

// Create inserts a new detection rule from req.
func (r *DetectionRuleRepo) Create(ctx context.Context, req model.CreateRuleRequest) (*model.DetectionRule, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rule := &model.DetectionRule{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Description:   req.Description,
		RuleType:      model.RuleType(req.RuleType),
		Query:         req.Query,
		Config:        req.Config,
		Severity:      model.AlertSeverity(req.Severity),
		Enabled:       true,
		Interval:      req.Interval,
		Lookback:      req.Lookback,
		DedupWindow:   req.DedupWindow,
		EntityMapping: req.EntityMapping,
		MitreTags:     req.MitreTags,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	const q = `
		INSERT INTO detection_rule (id, name, description, rule_type, query, config, severity, enabled,
			interval, lookback, dedup_window, entity_mapping, mitre_tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.db.ExecContext(ctx, q,
		rule.ID, rule.Name, rule.Description, rule.RuleType, rule.Query, rule.Config, rule.Severity, rule.Enabled,
		rule.Interval, rule.Lookback, rule.DedupWindow, rule.EntityMapping, rule.MitreTags,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert detection rule: %w", err)
	}
	return rule, nil
}

// Get fetches a detection rule by id.
func (r *DetectionRuleRepo) Get(ctx context.Context, id string) (*model.DetectionRule, error) {
	const q = `
		SELECT id, name, description, rule_type, query, config, severity, enabled, interval, lookback,
			dedup_window, entity_mapping, mitre_tags, last_run_at, created_at, updated_at
		FROM detection_rule WHERE id = $1`
	rule, err := scanDetectionRule(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDetectionRuleNotFound
	}
	return rule, err
}

func scanDetectionRule(row rowScanner) (*model.DetectionRule, error) {
	var rule model.DetectionRule
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.RuleType, &rule.Query, &rule.Config, &rule.Severity,
		&rule.Enabled, &rule.Interval, &rule.Lookback, &rule.DedupWindow,
		&rule.EntityMapping, &rule.MitreTags, &rule.LastRunAt, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan detection rule: %w", err)
	}
	return &rule, nil
}
