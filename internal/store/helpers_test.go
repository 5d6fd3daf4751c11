package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/erazemk/najdeno/internal/model"
)

func seedUser(t *testing.T, database *sql.DB, username, role string) *model.User {
	t.Helper()
	u, err := CreateUser(context.Background(), database, username, "hash", role)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func seedItem(t *testing.T, database *sql.DB, kind model.ItemKind, title string, category model.Category, reporter int64) *model.Item {
	t.Helper()
	item, err := CreateItem(context.Background(), database, &model.Item{
		Kind:       kind,
		Title:      title,
		Category:   category,
		Location:   "Main Library",
		OccurredOn: time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC),
		ReportedBy: reporter,
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}
