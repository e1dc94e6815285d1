// Package cron provides a periodic scheduler that fires due day schedules
// by publishing reminder events on the event bus.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Store    *persistence.Store
	Bus      *bus.Bus
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due day schedules and hands
// each one to the reminder pipeline as a near-future reminder event. Delivery,
// composition, and cleanup are the reminder orchestrator's business; this
// loop only decides when a schedule is due and when it runs next.
type Scheduler struct {
	store    *persistence.Store
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First pass immediately so schedules missed while down fire promptly.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick queries for due schedules and fires each one. Exported so tests can
// force a pass between intervals.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("cron: failed to query due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
	if len(due) > 0 {
		s.logger.Debug("cron: tick complete", "fired", len(due))
	}
}

// fire publishes the schedule's prompt as a reminder event and advances the
// schedule's run timestamps. The fire time sits a couple of seconds out so
// the reminder path treats it as a normal future reminder.
func (s *Scheduler) fire(ctx context.Context, sched persistence.Schedule, now time.Time) {
	ev := bus.ReminderEvent{
		Kind:    bus.KindReminder,
		OwnerID: sched.OwnerID,
		FireAt:  float64(now.Add(2 * time.Second).Unix()),
		Prompt:  sched.Prompt,
	}
	if !s.bus.Append(ctx, ev, sched.OwnerID) {
		s.logger.Error("cron: failed to publish event for schedule",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
		)
		return
	}

	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("cron: failed to compute next run time",
			"schedule_id", sched.ID,
			"cron_expr", sched.CronExpr,
			"error", err,
		)
		return
	}

	if err := s.store.UpdateScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		s.logger.Error("cron: failed to update schedule run",
			"schedule_id", sched.ID,
			"error", err,
		)
		return
	}

	s.logger.Info("cron: schedule fired",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"owner_id", sched.OwnerID,
		"next_run_at", nextRun,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
