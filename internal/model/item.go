package model

import (
	"strings"
	"time"
)

// ItemKind distinguishes reports of lost items from reports of found items.
type ItemKind string

const (
	ItemKindLost  ItemKind = "lost"
	ItemKindFound ItemKind = "found"
)

func (k ItemKind) String() string { return string(k) }

func (k ItemKind) IsValid() bool {
	switch k {
	case ItemKindLost, ItemKindFound:
		return true
	}
	return false
}

// Opposite returns the kind that reports of kind k are matched against.
func (k ItemKind) Opposite() ItemKind {
	if k == ItemKindLost {
		return ItemKindFound
	}
	return ItemKindLost
}

// Category is the closed set of item categories.
type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryBooks       Category = "books"
	CategoryClothing    Category = "clothing"
	CategoryAccessories Category = "accessories"
	CategoryKeys        Category = "keys"
	CategoryCards       Category = "id_cards"
	CategoryBags        Category = "bags"
	CategoryBottles     Category = "water_bottles"
	CategorySports      Category = "sports_equipment"
	CategoryOther       Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryElectronics,
	CategoryBooks,
	CategoryClothing,
	CategoryAccessories,
	CategoryKeys,
	CategoryCards,
	CategoryBags,
	CategoryBottles,
	CategorySports,
	CategoryOther,
}

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts a category in any letter case, with spaces or
// underscores ("Water Bottles", "water_bottles").
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	return c, c.IsValid()
}

// ItemStatus is the lifecycle state of a report.
type ItemStatus string

const (
	ItemStatusOpen    ItemStatus = "open"
	ItemStatusMatched ItemStatus = "matched"
	ItemStatusClaimed ItemStatus = "claimed"
	ItemStatusClosed  ItemStatus = "closed"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusOpen, ItemStatusMatched, ItemStatusClaimed, ItemStatusClosed:
		return true
	}
	return false
}

// DateLayout is the wire and storage format of Item.OccurredOn.
const DateLayout = "2006-01-02"

// Item is a single lost or found report.
type Item struct {
	ID          int64      `json:"id"`
	Kind        ItemKind   `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    Category   `json:"category"`
	Location    string     `json:"location,omitempty"`
	OccurredOn  time.Time  `json:"occurred_on"`
	Status      ItemStatus `json:"status"`
	ReportedBy  int64      `json:"reported_by"`
	ImageMime   string     `json:"image_mime,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the fields a reporter supplies. now bounds OccurredOn.
func (i *Item) Validate(now time.Time) error {
	var errs []FieldError
	if !i.Kind.IsValid() {
		errs = append(errs, FieldError{Field: "kind", Message: "must be lost or found"})
	}
	if strings.TrimSpace(i.Title) == "" {
		errs = append(errs, FieldError{Field: "title", Message: "required"})
	}
	if !i.Category.IsValid() {
		errs = append(errs, FieldError{Field: "category", Message: "unknown category"})
	}
	if i.Kind == ItemKindFound && strings.TrimSpace(i.Location) == "" {
		errs = append(errs, FieldError{Field: "location", Message: "required for found items"})
	}
	if i.OccurredOn.IsZero() {
		errs = append(errs, FieldError{Field: "occurred_on", Message: "required"})
	} else if i.OccurredOn.After(now) {
		errs = append(errs, FieldError{Field: "occurred_on", Message: "cannot be in the future"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}
