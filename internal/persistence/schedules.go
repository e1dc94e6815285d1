package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule is a recurring day-schedule entry. When due, the cron scheduler
// turns it into a reminder event on the durable bus so recurring entries
// ride the same at-least-once delivery path as one-shot reminders.
type Schedule struct {
	ID        string
	OwnerID   string
	Name      string
	CronExpr  string
	Prompt    string
	Enabled   bool
	NextRunAt *time.Time
	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertSchedule creates a recurring schedule entry.
func (s *Store) InsertSchedule(ctx context.Context, sched Schedule) (string, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	defer s.lock()()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO schedules (id, owner_id, name, cron_expr, prompt, enabled, next_run_at)
			VALUES (?, ?, ?, ?, ?, ?, ?);
		`, sched.ID, sched.OwnerID, sched.Name, sched.CronExpr, sched.Prompt, boolToInt(sched.Enabled), sched.NextRunAt)
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sched.ID, nil
}

// DeleteSchedule removes a schedule scoped to its owner.
func (s *Store) DeleteSchedule(ctx context.Context, id, ownerID string) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM schedules WHERE id = ? AND owner_id = ?;
		`, id, ownerID)
		if err != nil {
			return fmt.Errorf("delete schedule: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("schedule not found: %s", id)
		}
		return nil
	})
}

// ListSchedulesForOwner returns the owner's schedules ordered by name.
func (s *Store) ListSchedulesForOwner(ctx context.Context, ownerID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, cron_expr, prompt, enabled, next_run_at, last_run_at, created_at, updated_at
		FROM schedules WHERE owner_id = ? ORDER BY name ASC;
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// DueSchedules returns enabled schedules across all owners with
// next_run_at <= now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, cron_expr, prompt, enabled, next_run_at, last_run_at, created_at, updated_at
		FROM schedules WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC;
	`, now)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// UpdateScheduleRun records a firing and the next due time.
func (s *Store) UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, lastRun, nextRun, id)
		if err != nil {
			return fmt.Errorf("update schedule run: %w", err)
		}
		return nil
	})
}

// EnableSchedule sets a schedule's enabled flag, scoped to its owner.
func (s *Store) EnableSchedule(ctx context.Context, id, ownerID string, enabled bool) error {
	defer s.lock()()
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE schedules SET enabled = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND owner_id = ?;
		`, boolToInt(enabled), id, ownerID)
		if err != nil {
			return fmt.Errorf("enable schedule: %w", err)
		}
		return nil
	})
}

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var enabled int
		var nextRun, lastRun sql.NullTime
		if err := rows.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.CronExpr, &sc.Prompt, &enabled, &nextRun, &lastRun, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sc.Enabled = enabled != 0
		if nextRun.Valid {
			t := nextRun.Time
			sc.NextRunAt = &t
		}
		if lastRun.Valid {
			t := lastRun.Time
			sc.LastRunAt = &t
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
