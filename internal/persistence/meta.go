package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// MetaSet stores an owner-scoped key/value pair, replacing any prior value.
// Used for pinned-file lists and similar per-owner settings.
func (s *Store) MetaSet(ctx context.Context, ownerID, key, value string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO meta (owner_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (owner_id, key) DO UPDATE SET value = excluded.value;
		`, ownerID, key, value)
		if err != nil {
			return fmt.Errorf("meta set: %w", err)
		}
		return nil
	})
}

// MetaGet returns the stored value, or "" when the key is absent.
func (s *Store) MetaGet(ctx context.Context, ownerID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM meta WHERE owner_id = ? AND key = ?;
	`, ownerID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta get: %w", err)
	}
	return value, nil
}

// MetaEntry is a single owner-scoped key/value row.
type MetaEntry struct {
	Key   string
	Value string
}

// MetaListPrefix returns all entries whose key starts with prefix, ordered
// by key. Used to enumerate pin entries.
func (s *Store) MetaListPrefix(ctx context.Context, ownerID, prefix string) ([]MetaEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM meta
		WHERE owner_id = ? AND key LIKE ? ESCAPE '\'
		ORDER BY key ASC;
	`, ownerID, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("meta list: %w", err)
	}
	defer rows.Close()

	var entries []MetaEntry
	for rows.Next() {
		var e MetaEntry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("meta list scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// escapeLike escapes LIKE metacharacters so a prefix matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// MetaDelete removes a key. No-op when absent.
func (s *Store) MetaDelete(ctx context.Context, ownerID, key string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM meta WHERE owner_id = ? AND key = ?;
		`, ownerID, key)
		if err != nil {
			return fmt.Errorf("meta delete: %w", err)
		}
		return nil
	})
}
