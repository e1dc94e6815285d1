package persistence_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/amayahq/amaya/internal/persistence"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "amaya.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenCreatesSchema(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// All tables should exist and be queryable.
	for _, table := range []string{"users", "user_mappings", "sys_events", "pending_reminders", "short_term_memory", "meta", "schedules"} {
		var n int
		if err := store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected empty %s, got %d rows", table, n)
		}
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "amaya.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := store.UpsertReminder(context.Background(), "reminder_1_aa", "000001", 1234, "stretch"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()
	rows, err := store2.ListAllReminders(context.Background())
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(rows) != 1 || rows[0].Prompt != "stretch" {
		t.Fatalf("expected persisted reminder after reopen, got %+v", rows)
	}
}
