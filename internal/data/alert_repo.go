package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/target/soc-core/internal/data/database"
	"github.com/target/soc-core/internal/detection"
	"github.com/target/soc-core/internal/domain/model"
)

// ErrAlertNotFound is returned when an alert id has no matching row.
var ErrAlertNotFound = errors.New("alert not found")

// AlertRepo implements detection.AlertSink against the alert table: a fired
// candidate either merges into the still-open alert sharing its fingerprint
// (when within the rule's dedup window) or opens a fresh one, mirroring the
// original pipeline's alert-once-per-window behaviour.
type AlertRepo struct {
	db *sql.DB
}

// NewAlertRepo creates a new AlertRepo.
func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

var _ detection.AlertSink = (*AlertRepo)(nil)

// Fire implements detection.AlertSink.
func (r *AlertRepo) Fire(ctx context.Context, candidate detection.AlertCandidate, severity model.AlertSeverity, rule *model.DetectionRule) (*model.Alert, error) {
	firedAt := candidate.FiredAt
	if firedAt.IsZero() {
		firedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin alert fire tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanAlertRow(tx.QueryRowContext(ctx, selectAlertByFingerprintSQL, candidate.Fingerprint))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		alert, insertErr := r.insertAlert(ctx, tx, candidate, severity, rule, firedAt)
		if insertErr != nil {
			return nil, insertErr
		}
		return alert, tx.Commit()
	case err != nil:
		return nil, fmt.Errorf("lookup alert by fingerprint: %w", err)
	}

	if firedAt.Sub(existing.LastSeenAt) <= rule.DedupWindow {
		existing.Touch(firedAt)
		existing.EventReferences = mergeRefs(existing.EventReferences, candidate.EventRefs)
		existing.UpdatedAt = firedAt
		if err := r.updateAlertMerge(ctx, tx, existing); err != nil {
			return nil, err
		}
		return existing, tx.Commit()
	}

	// Dedup window elapsed: reopen the same fingerprint row as a fresh occurrence.
	existing.HitCount = 1
	existing.FirstSeenAt = firedAt
	existing.LastSeenAt = firedAt
	existing.Status = model.AlertStatusOpen
	existing.Severity = severity
	existing.Title = candidate.Title
	existing.Description = candidate.Description
	existing.Entities = candidate.Entities
	existing.EventReferences = candidate.EventRefs
	existing.UpdatedAt = firedAt
	if err := r.updateAlertMerge(ctx, tx, existing); err != nil {
		return nil, err
	}
	return existing, tx.Commit()
}

func (r *AlertRepo) insertAlert(ctx context.Context, tx *sql.Tx, candidate detection.AlertCandidate, severity model.AlertSeverity, rule *model.DetectionRule, firedAt time.Time) (*model.Alert, error) {
	alert := &model.Alert{
		ID:              uuid.NewString(),
		RuleID:          &rule.ID,
		RuleName:        rule.Name,
		Title:           candidate.Title,
		Description:     candidate.Description,
		Severity:        severity,
		Status:          model.AlertStatusOpen,
		Fingerprint:     candidate.Fingerprint,
		HitCount:        1,
		FirstSeenAt:     firedAt,
		LastSeenAt:      firedAt,
		MitreTags:       rule.MitreTags,
		EventReferences: candidate.EventRefs,
		Entities:        candidate.Entities,
		CreatedAt:       firedAt,
		UpdatedAt:       firedAt,
	}
	const q = `
		INSERT INTO alert (id, rule_id, rule_name, title, description, severity, status, fingerprint,
			hit_count, first_seen_at, last_seen_at, mitre_tags, event_references, entities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	entities, err := json.Marshal(alert.Entities)
	if err != nil {
		return nil, fmt.Errorf("marshal alert entities: %w", err)
	}
	_, err = tx.ExecContext(ctx, q,
		alert.ID, alert.RuleID, alert.RuleName, alert.Title, alert.Description, alert.Severity, alert.Status,
		alert.Fingerprint, alert.HitCount, alert.FirstSeenAt, alert.LastSeenAt, alert.MitreTags,
		alert.EventReferences, entities, alert.CreatedAt, alert.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

func (r *AlertRepo) updateAlertMerge(ctx context.Context, tx *sql.Tx, alert *model.Alert) error {
	entities, err := json.Marshal(alert.Entities)
	if err != nil {
		return fmt.Errorf("marshal alert entities: %w", err)
	}
	const q = `
		UPDATE alert SET title = $2, description = $3, severity = $4, status = $5, hit_count = $6,
			first_seen_at = $7, last_seen_at = $8, event_references = $9, entities = $10, updated_at = $11
		WHERE id = $1`
	_, err = tx.ExecContext(ctx, q,
		alert.ID, alert.Title, alert.Description, alert.Severity, alert.Status, alert.HitCount,
		alert.FirstSeenAt, alert.LastSeenAt, alert.EventReferences, entities, alert.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

func mergeRefs(existing, fresh []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(fresh))
	out := make([]string, 0, len(existing)+len(fresh))
	for _, ref := range append(existing, fresh...) {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// Get fetches an alert by id.
func (r *AlertRepo) Get(ctx context.Context, id string) (*model.Alert, error) {
	row := r.db.QueryRowContext(ctx, selectAlertByIDSQL, id)
	alert, err := scanAlertRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return alert, err
}

// List returns alerts matching opts, newest-last-seen first.
func (r *AlertRepo) List(ctx context.Context, opts model.AlertListOptions) (*model.AlertListResult, error) {
	conds := []database.Condition{}
	if opts.RuleID != nil {
		conds = append(conds, database.WhereCond("rule_id", database.Equal, *opts.RuleID))
	}
	if opts.Severity != nil {
		conds = append(conds, database.WhereCond("severity", database.Equal, *opts.Severity))
	}
	if opts.Status != nil {
		conds = append(conds, database.WhereCond("status", database.Equal, *opts.Status))
	}
	sortCol := "last_seen_at"
	switch opts.Sort {
	case "first_seen_at", "severity", "created_at":
		sortCol = opts.Sort
	}
	dir := "DESC"
	if opts.Dir == "asc" {
		dir = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	listOpts := database.NewListQueryOptions(
		"alert",
		database.WithColumns(alertColumns...),
		database.WithConditions(conds...),
		database.WithOrderBy(sortCol, dir),
		database.WithLimit(limit),
		database.WithOffset(opts.Offset),
	)
	query, args := database.BuildListQuery(listOpts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	countOpts := database.NewListQueryOptions(
		"alert",
		database.WithConditions(conds...),
		database.WithCountOnly(),
	)
	countQuery, countArgs := database.BuildListQuery(countOpts)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	return &model.AlertListResult{Alerts: alerts, Total: total}, nil
}

// ListSince returns alerts created at or after since, oldest first, bounded
// by limit -- used by the enrichment worker to find alerts to enrich without
// requiring a dedicated job-queue entry per alert.
func (r *AlertRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]*model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, rule_id, rule_name, title, description, severity, status, fingerprint,
		hit_count, first_seen_at, last_seen_at, mitre_tags, event_references, entities, case_id,
		acknowledged_by, closed_by, resolution, is_false_positive, event_context, metadata, correlation_id,
		created_at, updated_at FROM alert WHERE created_at >= $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts since %s: %w", since, err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// UpdateMetadata merges (overwrites) the alert's metadata blob, used to
// attach enrichment results after the alert has already been created.
func (r *AlertRepo) UpdateMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	const q = `UPDATE alert SET metadata = $2, updated_at = $3 WHERE id = $1`
	return r.exec1(ctx, q, id, metadata, time.Now().UTC())
}

// Acknowledge transitions an open alert to acknowledged.
func (r *AlertRepo) Acknowledge(ctx context.Context, id, actor string) error {
	const q = `UPDATE alert SET status = $2, acknowledged_by = $3, updated_at = $4 WHERE id = $1`
	return r.exec1(ctx, q, id, model.AlertStatusAcknowledged, actor, time.Now().UTC())
}

// Close transitions an alert to closed, recording who closed it and why.
func (r *AlertRepo) Close(ctx context.Context, id, actor, resolution string, falsePositive bool) error {
	const q = `
		UPDATE alert SET status = $2, closed_by = $3, resolution = $4, is_false_positive = $5, updated_at = $6
		WHERE id = $1`
	return r.exec1(ctx, q, id, model.AlertStatusClosed, actor, resolution, falsePositive, time.Now().UTC())
}

func (r *AlertRepo) exec1(ctx context.Context, query string, id string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %s rows affected: %w", id, err)
	}
	if affected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

var alertColumns = []string{
	"id", "rule_id", "rule_name", "title", "description", "severity", "status", "fingerprint",
	"hit_count", "first_seen_at", "last_seen_at", "mitre_tags", "event_references", "entities",
	"case_id", "acknowledged_by", "closed_by", "resolution", "is_false_positive", "event_context",
	"metadata", "correlation_id", "created_at", "updated_at",
}

const selectAlertByIDSQL = `SELECT id, rule_id, rule_name, title, description, severity, status, fingerprint,
	hit_count, first_seen_at, last_seen_at, mitre_tags, event_references, entities, case_id,
	acknowledged_by, closed_by, resolution, is_false_positive, event_context, metadata, correlation_id,
	created_at, updated_at FROM alert WHERE id = $1`

const selectAlertByFingerprintSQL = `SELECT id, rule_id, rule_name, title, description, severity, status, fingerprint,
	hit_count, first_seen_at, last_seen_at, mitre_tags, event_references, entities, case_id,
	acknowledged_by, closed_by, resolution, is_false_positive, event_context, metadata, correlation_id,
	created_at, updated_at FROM alert WHERE fingerprint = $1`

func scanAlertRow(row rowScanner) (*model.Alert, error) {
	var a model.Alert
	var entities json.RawMessage
	err := row.Scan(
		&a.ID, &a.RuleID, &a.RuleName, &a.Title, &a.Description, &a.Severity, &a.Status, &a.Fingerprint,
		&a.HitCount, &a.FirstSeenAt, &a.LastSeenAt, &a.MitreTags, &a.EventReferences, &entities, &a.CaseID,
		&a.AcknowledgedBy, &a.ClosedBy, &a.Resolution, &a.IsFalsePositive, &a.EventContext, &a.Metadata,
		&a.CorrelationID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &a.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal alert entities: %w", err)
		}
	}
	return &a, nil
}
