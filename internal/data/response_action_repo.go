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
	"github.com/target/soc-core/internal/domain/model"
)

// ErrResponseActionNotFound is returned when a response action id has no matching row.
var ErrResponseActionNotFound = errors.New("response action not found")

// ResponseActionRepo implements response.Repository against the
// response_action table, and additionally supports the CRUD operations
// the executor's callers (detection/alert handling) need to create and
// inspect dispatched actions.
type ResponseActionRepo struct {
	db *sql.DB
}

// NewResponseActionRepo creates a new ResponseActionRepo.
func NewResponseActionRepo(db *sql.DB) *ResponseActionRepo {
	return &ResponseActionRepo{db: db}
}

// Create inserts a new response action in pending status.
func (r *ResponseActionRepo) Create(ctx context.Context, req model.CreateResponseActionRequest) (*model.ResponseAction, error) {
	now := time.Now().UTC()
	action := &model.ResponseAction{
		ID:          uuid.NewString(),
		AlertID:     req.AlertID,
		Type:        req.Type,
		Adapter:     req.Adapter,
		Status:      model.ResponseActionPending,
		Params:      req.Params,
		RequestedBy: req.RequestedBy,
		Automatic:   req.Automatic,
		MaxRetries:  req.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if action.MaxRetries <= 0 {
		action.MaxRetries = 3
	}

	const q = `
		INSERT INTO response_action (id, alert_id, type, adapter, status, params, requested_by, automatic, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, q,
		action.ID, action.AlertID, action.Type, action.Adapter, action.Status,
		action.Params, action.RequestedBy, action.Automatic, action.MaxRetries, action.CreatedAt, action.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert response action: %w", err)
	}
	return action, nil
}

// Get fetches a response action by id.
func (r *ResponseActionRepo) Get(ctx context.Context, id string) (*model.ResponseAction, error) {
	const q = `
		SELECT id, alert_id, type, adapter, status, params, result, error, requested_by,
			automatic, retry_count, max_retries, started_at, completed_at, created_at, updated_at
		FROM response_action WHERE id = $1`
	row := r.db.QueryRowContext(ctx, q, id)
	return scanResponseAction(row)
}

// ListByAlert returns every response action dispatched for the given alert, newest first.
func (r *ResponseActionRepo) ListByAlert(ctx context.Context, alertID string) ([]*model.ResponseAction, error) {
	opts := database.NewListQueryOptions(
		"response_action",
		database.WithColumns("id", "alert_id", "type", "adapter", "status", "params", "result", "error",
			"requested_by", "automatic", "retry_count", "max_retries", "started_at", "completed_at", "created_at", "updated_at"),
		database.WithCondition(database.WhereCond("alert_id", database.Equal, alertID)),
		database.WithOrderBy("created_at", "DESC"),
	)
	query, args := database.BuildListQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query response actions: %w", err)
	}
	defer rows.Close()

	var actions []*model.ResponseAction
	for rows.Next() {
		action, scanErr := scanResponseActionRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response actions: %w", err)
	}
	return actions, nil
}

// ListPending returns up to limit response actions still awaiting dispatch,
// oldest first, the set the response runner's poll loop claims each tick.
func (r *ResponseActionRepo) ListPending(ctx context.Context, limit int) ([]*model.ResponseAction, error) {
	opts := database.NewListQueryOptions(
		"response_action",
		database.WithColumns("id", "alert_id", "type", "adapter", "status", "params", "result", "error",
			"requested_by", "automatic", "retry_count", "max_retries", "started_at", "completed_at", "created_at", "updated_at"),
		database.WithCondition(database.WhereCond("status", database.Equal, model.ResponseActionPending)),
		database.WithOrderBy("created_at", "ASC"),
		database.WithLimit(limit),
	)
	query, args := database.BuildListQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending response actions: %w", err)
	}
	defer rows.Close()

	var actions []*model.ResponseAction
	for rows.Next() {
		action, scanErr := scanResponseActionRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending response actions: %w", err)
	}
	return actions, nil
}

// MarkRunning transitions a pending response action to running, recording the start time.
func (r *ResponseActionRepo) MarkRunning(ctx context.Context, id string) error {
	const q = `
		UPDATE response_action SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1`
	return r.exec1(ctx, q, id, model.ResponseActionRunning, time.Now().UTC())
}

// Complete transitions a response action to succeeded, recording its result payload.
func (r *ResponseActionRepo) Complete(ctx context.Context, id string, result json.RawMessage) error {
	const q = `
		UPDATE response_action SET status = $2, result = $3, completed_at = $4, updated_at = $4
		WHERE id = $1`
	return r.exec1(ctx, q, id, model.ResponseActionSucceeded, result, time.Now().UTC())
}

// Fail transitions a response action to failed, recording the error message and
// incrementing the retry counter so the executor's retry policy can act on it.
func (r *ResponseActionRepo) Fail(ctx context.Context, id string, errMsg string) error {
	const q = `
		UPDATE response_action SET status = $2, error = $3, retry_count = retry_count + 1,
			completed_at = $4, updated_at = $4
		WHERE id = $1`
	return r.exec1(ctx, q, id, model.ResponseActionFailed, errMsg, time.Now().UTC())
}

// Skip transitions a response action to skipped, e.g. when no capable adapter is configured.
func (r *ResponseActionRepo) Skip(ctx context.Context, id string, reason string) error {
	const q = `
		UPDATE response_action SET status = $2, error = $3, completed_at = $4, updated_at = $4
		WHERE id = $1`
	return r.exec1(ctx, q, id, model.ResponseActionSkipped, reason, time.Now().UTC())
}

func (r *ResponseActionRepo) exec1(ctx context.Context, query string, id string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update response action %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update response action %s rows affected: %w", id, err)
	}
	if affected == 0 {
		return ErrResponseActionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponseAction(row *sql.Row) (*model.ResponseAction, error) {
	action, err := scanResponseActionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResponseActionNotFound
	}
	return action, err
}

func scanResponseActionRow(row rowScanner) (*model.ResponseAction, error) {
	var a model.ResponseAction
	err := row.Scan(
		&a.ID, &a.AlertID, &a.Type, &a.Adapter, &a.Status, &a.Params, &a.Result, &a.Error,
		&a.RequestedBy, &a.Automatic, &a.RetryCount, &a.MaxRetries, &a.StartedAt, &a.CompletedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan response action: %w", err)
	}
	return &a, nil
}
