package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/najdeno/internal/handoff"
	"github.com/erazemk/najdeno/internal/model"
)

const sessionColumns = `id, lost_item_id, found_item_id, owner_id, counterpart_id,
	owner_code, counterpart_code, owner_attempts, counterpart_attempts,
	owner_verified_counterpart, counterpart_verified_owner, locked, status,
	expires_at, created_by, created_at, updated_at`

// SessionRepo stores handoff sessions in SQLite.
type SessionRepo struct {
	DB *sql.DB
}

var _ handoff.Repository = (*SessionRepo)(nil)

func scanSession(row rowScanner) (*handoff.Session, error) {
	s := &handoff.Session{}
	var expiresAt int64
	var createdBy sql.NullInt64
	if err := row.Scan(&s.ID, &s.LostItemID, &s.FoundItemID, &s.OwnerID, &s.CounterpartID,
		&s.OwnerCode, &s.CounterpartCode, &s.OwnerAttempts, &s.CounterpartAttempts,
		&s.OwnerVerifiedCounterpart, &s.CounterpartVerifiedOwner, &s.Locked, &s.Status,
		&expiresAt, &createdBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	s.CreatedBy = createdBy.Int64
	return s, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *handoff.Session) error {
	_, err := conn(ctx, r.DB).ExecContext(ctx,
		`INSERT INTO handoff_sessions (id, lost_item_id, found_item_id, owner_id, counterpart_id,
		   owner_code, counterpart_code, owner_attempts, counterpart_attempts,
		   owner_verified_counterpart, counterpart_verified_owner, locked, status,
		   expires_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.LostItemID, s.FoundItemID, s.OwnerID, s.CounterpartID,
		s.OwnerCode, s.CounterpartCode, s.OwnerAttempts, s.CounterpartAttempts,
		s.OwnerVerifiedCounterpart, s.CounterpartVerifiedOwner, s.Locked, s.Status,
		s.ExpiresAt.UnixMilli(), nullID(s.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("creating handoff session: %w", err)
	}
	return nil
}

// Get returns a session by ID.
func (r *SessionRepo) Get(ctx context.Context, id string) (*handoff.Session, error) {
	s, err := scanSession(conn(ctx, r.DB).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM handoff_sessions WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting handoff session: %w", err)
	}
	return s, nil
}

// Update reads, modifies and writes a session in one transaction.
func (r *SessionRepo) Update(ctx context.Context, id string, fn func(ctx context.Context, s *handoff.Session) error) error {
	return RunInTx(ctx, r.DB, func(ctx context.Context) error {
		s, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return handoff.ErrNotFound
		}
		if err := fn(ctx, s); err != nil {
			return err
		}
		return r.save(ctx, s)
	})
}

func (r *SessionRepo) save(ctx context.Context, s *handoff.Session) error {
	_, err := conn(ctx, r.DB).ExecContext(ctx,
		`UPDATE handoff_sessions SET
		   owner_code = ?, counterpart_code = ?, owner_attempts = ?, counterpart_attempts = ?,
		   owner_verified_counterpart = ?, counterpart_verified_owner = ?, locked = ?, status = ?,
		   expires_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		s.OwnerCode, s.CounterpartCode, s.OwnerAttempts, s.CounterpartAttempts,
		s.OwnerVerifiedCounterpart, s.CounterpartVerifiedOwner, s.Locked, s.Status,
		s.ExpiresAt.UnixMilli(), s.ID,
	)
	if err != nil {
		return fmt.Errorf("saving handoff session: %w", err)
	}
	return nil
}

// ListSessionsForItem returns the sessions opened for itemID on either side,
// newest first.
func ListSessionsForItem(ctx context.Context, db *sql.DB, itemID int64) ([]handoff.Session, error) {
	rows, err := conn(ctx, db).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM handoff_sessions
		 WHERE lost_item_id = ? OR found_item_id = ? ORDER BY created_at DESC, id`,
		itemID, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing handoff sessions: %w", err)
	}
	defer rows.Close()

	var sessions []handoff.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning handoff session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// activeSession matches sessions still open for submissions at a given
// unix millisecond.
const activeSession = `status = 'ACTIVE' AND locked = 0 AND expires_at >= ?`

// HasActiveSession reports whether a session that is still open for
// submissions involves either item.
func HasActiveSession(ctx context.Context, db *sql.DB, lostID, foundID int64, now time.Time) (bool, error) {
	var n int
	err := conn(ctx, db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM handoff_sessions
		 WHERE (lost_item_id = ? OR found_item_id = ?) AND `+activeSession,
		lostID, foundID, now.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking active handoff sessions: %w", err)
	}
	return n > 0, nil
}

// UserInActiveSession reports whether userID is a party to a session that
// is still open for submissions.
func UserInActiveSession(ctx context.Context, db *sql.DB, userID int64, now time.Time) (bool, error) {
	var n int
	err := conn(ctx, db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM handoff_sessions
		 WHERE (owner_id = ? OR counterpart_id = ?) AND `+activeSession,
		userID, userID, now.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking user handoff sessions: %w", err)
	}
	return n > 0, nil
}

// ClaimSink marks both items of a completed handoff claimed and audits the
// completion. It runs inside the caller's transaction.
type ClaimSink struct {
	DB *sql.DB
}

var _ handoff.CompletionSink = (*ClaimSink)(nil)

// HandoffCompleted implements handoff.CompletionSink. Items already claimed
// are left untouched, so the status transition happens at most once.
func (c *ClaimSink) HandoffCompleted(ctx context.Context, s *handoff.Session) error {
	var claimed []int64
	for _, id := range []int64{s.LostItemID, s.FoundItemID} {
		changed, err := SetItemStatus(ctx, c.DB, id, model.ItemStatusClaimed)
		if err != nil {
			return err
		}
		if changed {
			claimed = append(claimed, id)
		}
	}

	return InsertAudit(ctx, c.DB, model.AuditEntry{
		Action:     model.AuditHandoffCompleted,
		EntityType: model.EntityHandoff,
		EntityID:   s.ID,
		Details:    fmt.Sprintf("lost=%d found=%d claimed=%v", s.LostItemID, s.FoundItemID, claimed),
	})
}
