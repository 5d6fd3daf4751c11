package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/najdeno/internal/model"
)

// DeclinePairing records that candidateID must not be suggested for
// sourceID. Declining twice is a no-op.
func DeclinePairing(ctx context.Context, db *sql.DB, sourceID, candidateID, declinedBy int64) error {
	_, err := conn(ctx, db).ExecContext(ctx,
		`INSERT OR IGNORE INTO declined_pairings (source_item_id, candidate_item_id, declined_by)
		 VALUES (?, ?, ?)`,
		sourceID, candidateID, declinedBy,
	)
	if err != nil {
		return fmt.Errorf("declining pairing: %w", err)
	}
	return nil
}

// DeclinedWith returns the ids of every item paired with itemID in a decline,
// whichever side of the pairing itemID was on.
func DeclinedWith(ctx context.Context, db *sql.DB, itemID int64) (map[int64]bool, error) {
	rows, err := conn(ctx, db).QueryContext(ctx,
		`SELECT candidate_item_id FROM declined_pairings WHERE source_item_id = ?
		 UNION
		 SELECT source_item_id FROM declined_pairings WHERE candidate_item_id = ?`,
		itemID, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing declined pairings: %w", err)
	}
	defer rows.Close()

	excluded := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning declined pairing: %w", err)
		}
		excluded[id] = true
	}
	return excluded, rows.Err()
}

// ListDeclined returns the declines recorded with sourceID as the source.
func ListDeclined(ctx context.Context, db *sql.DB, sourceID int64) ([]model.DeclinedPairing, error) {
	rows, err := conn(ctx, db).QueryContext(ctx,
		`SELECT source_item_id, candidate_item_id, declined_by, declined_at
		 FROM declined_pairings WHERE source_item_id = ? ORDER BY declined_at, candidate_item_id`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing declined pairings: %w", err)
	}
	defer rows.Close()

	var pairings []model.DeclinedPairing
	for rows.Next() {
		var p model.DeclinedPairing
		if err := rows.Scan(&p.SourceItemID, &p.CandidateItemID, &p.DeclinedBy, &p.DeclinedAt); err != nil {
			return nil, fmt.Errorf("scanning declined pairing: %w", err)
		}
		pairings = append(pairings, p)
	}
	return pairings, rows.Err()
}
