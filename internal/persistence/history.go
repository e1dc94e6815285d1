package persistence

import (
	"context"
	"fmt"
	"time"
)

// HistoryItem is one short-term memory row, injected into the brain's
// prompt as prior conversation context.
type HistoryItem struct {
	ID        int64
	OwnerID   string
	Role      string
	Text      string
	CreatedAt time.Time
}

// AddHistory appends a message to the owner's short-term memory.
func (s *Store) AddHistory(ctx context.Context, ownerID, role, text string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO short_term_memory (owner_id, role, text) VALUES (?, ?, ?);
		`, ownerID, role, text)
		if err != nil {
			return fmt.Errorf("add history: %w", err)
		}
		return nil
	})
}

// ListHistory returns the owner's most recent limit messages in
// chronological order.
func (s *Store) ListHistory(ctx context.Context, ownerID string, limit int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, role, text, created_at FROM (
			SELECT id, owner_id, role, text, created_at
			FROM short_term_memory WHERE owner_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC;
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []HistoryItem
	for rows.Next() {
		var h HistoryItem
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.Role, &h.Text, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TrimHistory keeps only the owner's newest keep rows.
func (s *Store) TrimHistory(ctx context.Context, ownerID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	defer s.lock()()
	var removed int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM short_term_memory
			WHERE owner_id = ? AND id NOT IN (
				SELECT id FROM short_term_memory WHERE owner_id = ?
				ORDER BY id DESC LIMIT ?
			);
		`, ownerID, ownerID, keep)
		if err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}
