package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a registered internal identity. Reminders, events, ledger rows,
// history, and memory files all hang off the internal user id, never a
// platform-specific chat id.
type User struct {
	UserID      string
	DisplayName string
	CreatedAt   time.Time
}

// UserMapping links a platform identity (e.g. a Telegram chat id) to an
// internal user id.
type UserMapping struct {
	Platform   string
	ExternalID string
	UserID     string
	CreatedAt  time.Time
}

// LookupUser resolves a platform identity to an internal user id.
// Returns "" when no mapping exists.
func (s *Store) LookupUser(ctx context.Context, platform, externalID string) (string, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	externalID = strings.TrimSpace(externalID)
	if platform == "" || externalID == "" {
		return "", nil
	}
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_mappings WHERE platform = ? AND external_id = ?;
	`, platform, externalID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup user mapping: %w", err)
	}
	return userID, nil
}

// ExternalIDForUser is the reverse of LookupUser: it resolves an internal
// user id back to the platform identity used for outbound delivery.
// Returns "" when the user has no mapping on that platform.
func (s *Store) ExternalIDForUser(ctx context.Context, platform, userID string) (string, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	userID = strings.TrimSpace(userID)
	if platform == "" || userID == "" {
		return "", nil
	}
	var externalID string
	err := s.db.QueryRowContext(ctx, `
		SELECT external_id FROM user_mappings WHERE platform = ? AND user_id = ?;
	`, platform, userID).Scan(&externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reverse user mapping: %w", err)
	}
	return externalID, nil
}

// ResolveUser returns the internal user id for a platform identity, creating
// the user and the mapping on first contact. New ids are sequential
// zero-padded six-digit strings.
func (s *Store) ResolveUser(ctx context.Context, platform, externalID, displayName string) (string, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	externalID = strings.TrimSpace(externalID)
	if platform == "" || externalID == "" {
		return "", fmt.Errorf("resolve user: empty platform or external id")
	}

	defer s.lock()()

	var userID string
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin resolve tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		err = tx.QueryRowContext(ctx, `
			SELECT user_id FROM user_mappings WHERE platform = ? AND external_id = ?;
		`, platform, externalID).Scan(&userID)
		if err == nil {
			return tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup mapping: %w", err)
		}

		userID, err = nextUserIDTx(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (user_id, display_name) VALUES (?, ?);
		`, userID, displayName); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_mappings (platform, external_id, user_id) VALUES (?, ?, ?);
		`, platform, externalID, userID); err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// LinkUser binds a platform identity to an existing user id. An existing
// mapping to a different user is only rewritten when force is set.
func (s *Store) LinkUser(ctx context.Context, platform, externalID, userID, displayName string, force bool) (bool, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	externalID = strings.TrimSpace(externalID)
	if platform == "" || externalID == "" || userID == "" {
		return false, nil
	}

	defer s.lock()()

	linked := false
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin link tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var existing string
		err = tx.QueryRowContext(ctx, `
			SELECT user_id FROM user_mappings WHERE platform = ? AND external_id = ?;
		`, platform, externalID).Scan(&existing)
		hasMapping := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup mapping: %w", err)
		}
		if hasMapping && existing != userID && !force {
			return tx.Commit()
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_id = ?;`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if exists == 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (user_id, display_name) VALUES (?, ?);
			`, userID, displayName); err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
		} else if displayName != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET display_name = ? WHERE user_id = ?;
			`, displayName, userID); err != nil {
				return fmt.Errorf("update user: %w", err)
			}
		}

		if hasMapping {
			if _, err := tx.ExecContext(ctx, `
				UPDATE user_mappings SET user_id = ? WHERE platform = ? AND external_id = ?;
			`, userID, platform, externalID); err != nil {
				return fmt.Errorf("update mapping: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_mappings (platform, external_id, user_id) VALUES (?, ?, ?);
			`, platform, externalID, userID); err != nil {
				return fmt.Errorf("insert mapping: %w", err)
			}
		}
		linked = true
		return tx.Commit()
	})
	return linked, err
}

// ListUsers returns all registered users ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COALESCE(display_name, ''), created_at FROM users ORDER BY created_at ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nextUserIDTx(ctx context.Context, tx *sql.Tx) (string, error) {
	var last sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT user_id FROM users
		WHERE user_id GLOB '[0-9]*' AND user_id NOT GLOB '*[^0-9]*' AND length(user_id) <= 6
		ORDER BY CAST(user_id AS INTEGER) DESC LIMIT 1;
	`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read last user id: %w", err)
	}
	next := 1
	if last.Valid {
		n := 0
		if _, err := fmt.Sscanf(last.String, "%d", &n); err == nil {
			next = n + 1
		}
	}
	if next > 999999 {
		return "", fmt.Errorf("user id sequence exhausted")
	}
	return fmt.Sprintf("%06d", next), nil
}
