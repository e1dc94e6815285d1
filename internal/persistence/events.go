package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SysEvent is one row of the durable cross-goroutine event queue. Payload
// holds the serialized event as appended by the tool surface.
type SysEvent struct {
	RowID     int64
	OwnerID   string
	EventID   string
	EventType string
	Payload   string
	Status    string
	CreatedAt time.Time
}

// AppendSysEvent inserts a pending event row. Safe for concurrent callers.
func (s *Store) AppendSysEvent(ctx context.Context, ownerID, eventID, eventType, payload string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sys_events (owner_id, event_id, event_type, payload, status, created_at)
			VALUES (?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP);
		`, ownerID, eventID, eventType, payload)
		if err != nil {
			return fmt.Errorf("append sys event: %w", err)
		}
		return nil
	})
}

// DrainSysEvents atomically consumes the pending event set. Within a single
// transaction it reads all pending rows in insertion order, marks rows whose
// payload deserializes as JSON objects as processed, and quarantines the rest
// as invalid. Invalid rows are retained for inspection and never retried.
// Concurrent drains cannot both observe the same row as pending.
//
// Returned events carry the parsed payload; malformed holds the raw payloads
// that were quarantined this drain.
func (s *Store) DrainSysEvents(ctx context.Context) (events []SysEvent, malformed []string, err error) {
	defer s.lock()()

	// Fast path: nothing pending, skip the write transaction entirely.
	var pendingCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sys_events WHERE status = 'pending';
	`).Scan(&pendingCount); err != nil {
		return nil, nil, fmt.Errorf("count pending events: %w", err)
	}
	if pendingCount == 0 {
		return nil, nil, nil
	}

	err = retryOnBusy(ctx, 5, func() error {
		events = events[:0]
		malformed = malformed[:0]

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin drain tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, owner_id, COALESCE(event_id, ''), COALESCE(event_type, ''), payload, status, created_at
			FROM sys_events WHERE status = 'pending'
			ORDER BY id ASC;
		`)
		if err != nil {
			return fmt.Errorf("select pending events: %w", err)
		}

		var all []SysEvent
		for rows.Next() {
			var ev SysEvent
			if err := rows.Scan(&ev.RowID, &ev.OwnerID, &ev.EventID, &ev.EventType, &ev.Payload, &ev.Status, &ev.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan pending event: %w", err)
			}
			all = append(all, ev)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate pending events: %w", err)
		}

		for _, ev := range all {
			var probe map[string]any
			status := EventStatusProcessed
			if json.Unmarshal([]byte(ev.Payload), &probe) != nil {
				status = EventStatusInvalid
				malformed = append(malformed, ev.Payload)
			} else {
				events = append(events, ev)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE sys_events SET status = ?, processed_at = CURRENT_TIMESTAMP WHERE id = ?;
			`, status, ev.RowID); err != nil {
				return fmt.Errorf("transition event %d: %w", ev.RowID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit drain tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return events, malformed, nil
}

// SysEventCounts reports queue depth per status, for health reporting.
func (s *Store) SysEventCounts(ctx context.Context) (pending, processed, invalid int, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sys_events GROUP BY status;
	`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count sys events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, fmt.Errorf("scan event count: %w", err)
		}
		switch status {
		case EventStatusPending:
			pending = n
		case EventStatusProcessed:
			processed = n
		case EventStatusInvalid:
			invalid = n
		}
	}
	return pending, processed, invalid, rows.Err()
}

// PruneSysEvents deletes processed and invalid rows older than the cutoff.
// Pending rows are never pruned.
func (s *Store) PruneSysEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	defer s.lock()()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sys_events
		WHERE status IN ('processed', 'invalid') AND created_at < ?;
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sys events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
