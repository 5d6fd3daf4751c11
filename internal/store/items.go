package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/najdeno/internal/model"
)

const itemColumns = `id, kind, title, description, category, location, occurred_on, status,
	reported_by, image_mime, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description, location, imageMime sql.NullString
	var occurredOn string
	if err := row.Scan(&item.ID, &item.Kind, &item.Title, &description, &item.Category, &location,
		&occurredOn, &item.Status, &item.ReportedBy, &imageMime, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	on, err := time.Parse(model.DateLayout, occurredOn)
	if err != nil {
		return nil, fmt.Errorf("parsing occurred_on %q: %w", occurredOn, err)
	}
	item.OccurredOn = on
	item.Description = description.String
	item.Location = location.String
	item.ImageMime = imageMime.String
	return item, nil
}

// CreateItem stores a new report with status open.
func CreateItem(ctx context.Context, db *sql.DB, item *model.Item) (*model.Item, error) {
	result, err := conn(ctx, db).ExecContext(ctx,
		`INSERT INTO items (kind, title, description, category, location, occurred_on, status, reported_by)
		 VALUES (?, ?, ?, ?, ?, ?, 'open', ?)`,
		item.Kind, item.Title, item.Description, item.Category, item.Location,
		item.OccurredOn.Format(model.DateLayout), item.ReportedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item, err := scanItem(conn(ctx, db).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ItemFilter narrows ListItems. Zero fields match everything.
type ItemFilter struct {
	Kind       model.ItemKind
	Status     model.ItemStatus
	Category   model.Category
	ReportedBy int64
	// Query matches title, description or location case-insensitively.
	Query string
}

// ListItems returns items matching f, newest first.
func ListItems(ctx context.Context, db *sql.DB, f ItemFilter) ([]model.Item, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.ReportedBy != 0 {
		where = append(where, "reported_by = ?")
		args = append(args, f.ReportedBy)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(lower(title) LIKE ? OR lower(description) LIKE ? OR lower(location) LIKE ?)")
		args = append(args, like, like, like)
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_on DESC, id DESC`

	rows, err := conn(ctx, db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListCandidates returns the open reports of kind, excluding source, in
// insertion order. An empty kind means the kind opposite to source.
func ListCandidates(ctx context.Context, db *sql.DB, source *model.Item, kind model.ItemKind) ([]model.Item, error) {
	if kind == "" {
		kind = source.Kind.Opposite()
	}
	rows, err := conn(ctx, db).QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE kind = ? AND status = 'open' AND id != ?
		 ORDER BY id`, kind, source.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItem updates the reporter-editable fields of an item.
func UpdateItem(ctx context.Context, db *sql.DB, item *model.Item) error {
	_, err := conn(ctx, db).ExecContext(ctx,
		`UPDATE items SET title = ?, description = ?, category = ?, location = ?, occurred_on = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		item.Title, item.Description, item.Category, item.Location,
		item.OccurredOn.Format(model.DateLayout), item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// SetItemStatus moves an item to status. It reports whether the row changed,
// so setting a status the item already has returns false.
func SetItemStatus(ctx context.Context, db *sql.DB, id int64, status model.ItemStatus) (bool, error) {
	result, err := conn(ctx, db).ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status != ?`,
		status, id, status,
	)
	if err != nil {
		return false, fmt.Errorf("setting item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking item status update: %w", err)
	}
	return n > 0, nil
}

// SetItemImage sets an item's image data.
func SetItemImage(ctx context.Context, db *sql.DB, id int64, image []byte, mime string) error {
	_, err := conn(ctx, db).ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		image, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's image data and MIME type.
func GetItemImage(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := conn(ctx, db).QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}
