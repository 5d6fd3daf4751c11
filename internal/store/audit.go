package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/najdeno/internal/model"
)

// InsertAudit appends an entry to the audit log.
func InsertAudit(ctx context.Context, db *sql.DB, e model.AuditEntry) error {
	_, err := conn(ctx, db).ExecContext(ctx,
		`INSERT INTO audit_log (action, entity_type, entity_id, actor_id, details) VALUES (?, ?, ?, ?, ?)`,
		e.Action, e.EntityType, e.EntityID, e.ActorID, e.Details,
	)
	if err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows ListAudit. Zero fields match everything.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// ListAudit returns audit entries, newest first.
func ListAudit(ctx context.Context, db *sql.DB, f AuditFilter) ([]model.AuditEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := conn(ctx, db).QueryContext(ctx,
		`SELECT id, action, entity_type, entity_id, actor_id, details, created_at
		 FROM audit_log
		 WHERE (? = '' OR entity_type = ?) AND (? = '' OR entity_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		f.EntityType, f.EntityType, f.EntityID, f.EntityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.ActorID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
