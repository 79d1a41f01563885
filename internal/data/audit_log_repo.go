package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/target/soc-core/internal/audit"
	"github.com/target/soc-core/internal/data/database"
)

// AuditLogRepo implements audit.Recorder against the audit_log table.
type AuditLogRepo struct {
	db *sql.DB
}

// NewAuditLogRepo creates a new AuditLogRepo.
func NewAuditLogRepo(db *sql.DB) *AuditLogRepo {
	return &AuditLogRepo{db: db}
}

// Record persists a single audit entry. CreatedAt and ID are assigned if unset.
func (r *AuditLogRepo) Record(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	const q = `
		INSERT INTO audit_log (id, actor_type, actor_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, q,
		entry.ID, entry.ActorType, entry.ActorID, entry.Action,
		entry.EntityType, entry.EntityID, detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

// ListByEntity returns the most recent audit entries for a given entity, newest first.
func (r *AuditLogRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	opts := database.NewListQueryOptions(
		"audit_log",
		database.WithColumns("id", "actor_type", "actor_id", "action", "entity_type", "entity_id", "detail", "created_at"),
		database.WithConditions(
			database.WhereCond("entity_type", database.Equal, entityType),
			database.WhereCond("entity_id", database.Equal, entityID),
		),
		database.WithOrderBy("created_at", "DESC"),
		database.WithLimit(limit),
	)
	query, args := database.BuildListQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var detail []byte
		if scanErr := rows.Scan(&e.ID, &e.ActorType, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &detail, &e.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan audit log row: %w", scanErr)
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log rows: %w", err)
	}
	return entries, nil
}

// Reap deletes audit entries older than the cutoff in bounded batches, returning the total removed.
func (r *AuditLogRepo) Reap(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	const q = `
		DELETE FROM audit_log
		WHERE id IN (SELECT id FROM audit_log WHERE created_at < $1 ORDER BY created_at LIMIT $2)`

	total := 0
	for {
		res, err := r.db.ExecContext(ctx, q, olderThan, batchSize)
		if err != nil {
			return total, fmt.Errorf("reap audit log: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("reap audit log rows affected: %w", err)
		}
		total += int(affected)
		if affected < int64(batchSize) {
			return total, nil
		}
	}
}
