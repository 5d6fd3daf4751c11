package model

import (
	"errors"
	"testing"
	"time"
)

func TestItemValidate(t *testing.T) {
	now := time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	tests := []struct {
		name      string
		item      Item
		wantField string
	}{
		{
			name: "valid lost without location",
			item: Item{Kind: ItemKindLost, Title: "Keys", Category: CategoryKeys, OccurredOn: yesterday},
		},
		{
			name:      "found requires location",
			item:      Item{Kind: ItemKindFound, Title: "Keys", Category: CategoryKeys, OccurredOn: yesterday},
			wantField: "location",
		},
		{
			name:      "unknown category",
			item:      Item{Kind: ItemKindLost, Title: "Keys", Category: "vehicles", OccurredOn: yesterday},
			wantField: "category",
		},
		{
			name:      "future date",
			item:      Item{Kind: ItemKindLost, Title: "Keys", Category: CategoryKeys, OccurredOn: now.AddDate(0, 0, 2)},
			wantField: "occurred_on",
		},
		{
			name:      "blank title",
			item:      Item{Kind: ItemKindLost, Title: "  ", Category: CategoryKeys, OccurredOn: yesterday},
			wantField: "title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate(now)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected error to unwrap to ErrValidation")
			}
			if verr.Errors[0].Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, verr.Errors[0].Field)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("Water Bottles")
	if !ok || c != CategoryBottles {
		t.Errorf("ParseCategory(Water Bottles) = %q, %v", c, ok)
	}
	if _, ok := ParseCategory("spaceships"); ok {
		t.Error("expected unknown category to be rejected")
	}
}

func TestItemKindOpposite(t *testing.T) {
	if ItemKindLost.Opposite() != ItemKindFound || ItemKindFound.Opposite() != ItemKindLost {
		t.Error("Opposite should swap lost and found")
	}
}
