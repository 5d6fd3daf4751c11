package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/najdeno/internal/model"
)

// PairItems orders two items of opposite kinds as (lost, found). It fails
// with a validation error when the kinds do not pair.
func PairItems(a, b *model.Item) (lost, found *model.Item, err error) {
	switch {
	case a.Kind == model.ItemKindLost && b.Kind == model.ItemKindFound:
		return a, b, nil
	case a.Kind == model.ItemKindFound && b.Kind == model.ItemKindLost:
		return b, a, nil
	}
	return nil, nil, model.NewValidationError("kind", "a pairing needs one lost and one found item")
}

// ConfirmPairing records the pairing of two open items and marks both
// matched. A pairing left behind by an item that was since reopened is
// replaced.
func ConfirmPairing(ctx context.Context, db *sql.DB, sourceID, candidateID, actorID int64) (lost, found *model.Item, err error) {
	err = RunInTx(ctx, db, func(ctx context.Context) error {
		source, err := GetItem(ctx, db, sourceID)
		if err != nil {
			return err
		}
		candidate, err := GetItem(ctx, db, candidateID)
		if err != nil {
			return err
		}
		if source == nil || candidate == nil {
			return model.ErrNotFound
		}

		lost, found, err = PairItems(source, candidate)
		if err != nil {
			return err
		}
		if lost.Status != model.ItemStatusOpen || found.Status != model.ItemStatusOpen {
			return fmt.Errorf("both items must be open: %w", model.ErrConflict)
		}

		for _, item := range []*model.Item{lost, found} {
			if err := DeletePairingsFor(ctx, db, item.ID); err != nil {
				return err
			}
		}
		if _, err := conn(ctx, db).ExecContext(ctx,
			`INSERT INTO pairings (lost_item_id, found_item_id, confirmed_by) VALUES (?, ?, ?)`,
			lost.ID, found.ID, nullID(actorID),
		); err != nil {
			return fmt.Errorf("recording pairing: %w", err)
		}

		for _, item := range []*model.Item{lost, found} {
			if _, err := SetItemStatus(ctx, db, item.ID, model.ItemStatusMatched); err != nil {
				return err
			}
			item.Status = model.ItemStatusMatched
		}

		return InsertAudit(ctx, db, model.AuditEntry{
			Action:     model.AuditPairingConfirmed,
			EntityType: model.EntityItem,
			EntityID:   fmt.Sprint(lost.ID),
			ActorID:    &actorID,
			Details:    fmt.Sprintf("lost=%d found=%d", lost.ID, found.ID),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return lost, found, nil
}

// PairingFor returns the confirmed pairing itemID takes part in, on either
// side, or nil.
func PairingFor(ctx context.Context, db *sql.DB, itemID int64) (*model.Pairing, error) {
	p := &model.Pairing{}
	var confirmedBy sql.NullInt64
	err := conn(ctx, db).QueryRowContext(ctx,
		`SELECT lost_item_id, found_item_id, confirmed_by, confirmed_at FROM pairings
		 WHERE lost_item_id = ? OR found_item_id = ?`,
		itemID, itemID,
	).Scan(&p.LostItemID, &p.FoundItemID, &confirmedBy, &p.ConfirmedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pairing: %w", err)
	}
	if confirmedBy.Valid {
		p.ConfirmedBy = &confirmedBy.Int64
	}
	return p, nil
}

// RequirePairing fails with model.ErrConflict unless lostID and foundID are
// paired with each other.
func RequirePairing(ctx context.Context, db *sql.DB, lostID, foundID int64) error {
	p, err := PairingFor(ctx, db, lostID)
	if err != nil {
		return err
	}
	if p == nil || p.LostItemID != lostID || p.FoundItemID != foundID {
		return fmt.Errorf("items %d and %d are not a confirmed pairing: %w", lostID, foundID, model.ErrConflict)
	}
	return nil
}

// DeletePairingsFor drops any pairing itemID takes part in.
func DeletePairingsFor(ctx context.Context, db *sql.DB, itemID int64) error {
	_, err := conn(ctx, db).ExecContext(ctx,
		`DELETE FROM pairings WHERE lost_item_id = ? OR found_item_id = ?`,
		itemID, itemID,
	)
	if err != nil {
		return fmt.Errorf("deleting pairing: %w", err)
	}
	return nil
}
