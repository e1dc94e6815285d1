package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PendingReminder is one row of the reminder ledger: the durable source of
// truth for obligations that must eventually fire. In-memory timers are a
// cache over this table and are rebuilt from it on startup.
type PendingReminder struct {
	ID      string
	OwnerID string
	FireAt  int64 // epoch seconds
	Prompt  string
}

// UpsertReminder replaces the caller's existing ledger row with the same id
// so a reminder can be rescheduled without creating duplicates. The delete
// and insert commit together. The delete is owner-scoped: an id that already
// belongs to a different owner cannot be replaced, the insert fails on the
// primary key instead.
func (s *Store) UpsertReminder(ctx context.Context, id, ownerID string, fireAt int64, prompt string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pending_reminders WHERE id = ? AND owner_id = ?;
		`, id, ownerID); err != nil {
			return fmt.Errorf("delete prior reminder: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_reminders (id, owner_id, fire_at, prompt) VALUES (?, ?, ?, ?);
		`, id, ownerID, fireAt, prompt); err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit upsert tx: %w", err)
		}
		return nil
	})
}

// GetReminder returns the ledger row for (id, ownerID). The second return is
// false when no row exists for that owner, including when the id belongs to
// someone else.
func (s *Store) GetReminder(ctx context.Context, id, ownerID string) (PendingReminder, bool, error) {
	var r PendingReminder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, fire_at, prompt FROM pending_reminders
		WHERE id = ? AND owner_id = ?;
	`, id, ownerID).Scan(&r.ID, &r.OwnerID, &r.FireAt, &r.Prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingReminder{}, false, nil
	}
	if err != nil {
		return PendingReminder{}, false, fmt.Errorf("get reminder: %w", err)
	}
	return r, true, nil
}

// RemoveReminder deletes the ledger row scoped to its owner. Removing a row
// that does not exist is not an error: fired, cleared, and never-existed are
// all the same terminal state to the caller.
func (s *Store) RemoveReminder(ctx context.Context, id, ownerID string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM pending_reminders WHERE id = ? AND owner_id = ?;
		`, id, ownerID)
		if err != nil {
			return fmt.Errorf("remove reminder: %w", err)
		}
		return nil
	})
}

// ListAllReminders returns ledger rows for every owner, ordered by fire time.
// Used only by startup recovery, which must rebuild the whole scheduler state.
func (s *Store) ListAllReminders(ctx context.Context) ([]PendingReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, fire_at, prompt FROM pending_reminders ORDER BY fire_at ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list all reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows.Next, rows.Scan, rows.Err)
}

// ListRemindersForOwner returns the owner's pending reminders ordered by fire time.
func (s *Store) ListRemindersForOwner(ctx context.Context, ownerID string) ([]PendingReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, fire_at, prompt FROM pending_reminders
		WHERE owner_id = ? ORDER BY fire_at ASC;
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list reminders for owner: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows.Next, rows.Scan, rows.Err)
}

func scanReminders(next func() bool, scan func(...any) error, rowsErr func() error) ([]PendingReminder, error) {
	var out []PendingReminder
	for next() {
		var r PendingReminder
		if err := scan(&r.ID, &r.OwnerID, &r.FireAt, &r.Prompt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rowsErr()
}
