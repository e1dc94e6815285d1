// Package reminder implements the reminder orchestrator: startup recovery
// from the durable ledger, the event-bus draining loop, the per-reminder
// lifecycle (create, clear, fire, cleanup), and dispatch to the messaging
// capability.
//
// A reminder is Scheduled until it reaches one of three terminal states:
// Fired (callback ran and the ledger row was removed), Cleared (a clear
// event named it), or Orphaned (recovery found the persisted row unusable).
// Firing is at-least-once: a crash between dispatch and ledger removal
// re-fires the reminder on the next restart, tagged as delayed.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/otel"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/shared"
	"github.com/amayahq/amaya/internal/timer"
)

// DefaultPollInterval is how often the scheduler drains the event bus.
const DefaultPollInterval = 5 * time.Second

// delayedPrefix marks reminders that fire after their nominal time, either
// because the creator asked for a past time or because the process was down.
const delayedPrefix = "[delayed] "

// MessageSender delivers a reminder notification to its owner. Failure is
// logged by the core, not retried; retry policy belongs to the adapter.
type MessageSender interface {
	SendText(ctx context.Context, ownerID, text string) bool
}

// Composer phrases a fired reminder in natural language. The core treats it
// as an opaque text-generation call scoped to the reminder's owner.
type Composer interface {
	Chat(ctx context.Context, ownerID, requestID, prompt string) (string, error)
}

// Config holds the orchestrator's dependencies.
type Config struct {
	Store        *persistence.Store
	Bus          *bus.Bus
	Jobs         *timer.Engine
	Sender       MessageSender
	Composer     Composer
	Logger       *slog.Logger
	Telemetry    *otel.Instruments // optional
	PollInterval time.Duration     // defaults to DefaultPollInterval
}

// Health holds the cumulative drain-loop counters logged as health signals.
type Health struct {
	MalformedEvents    int64
	PastDueCreations   int64
	MissingFieldEvents int64
	OrphanedReminders  int64
}

// Scheduler owns the reminder lifecycle end to end.
type Scheduler struct {
	store    *persistence.Store
	bus      *bus.Bus
	jobs     *timer.Engine
	sender   MessageSender
	composer Composer
	logger   *slog.Logger
	tel      *otel.Instruments
	interval time.Duration

	malformedEvents    atomic.Int64
	pastDueCreations   atomic.Int64
	missingFieldEvents atomic.Int64
	orphanedReminders  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		bus:      cfg.Bus,
		jobs:     cfg.Jobs,
		sender:   cfg.Sender,
		composer: cfg.Composer,
		logger:   logger,
		tel:      cfg.Telemetry,
		interval: interval,
	}
}

// NewReminderID builds a globally unique reminder id from a time-based
// prefix plus a random suffix, so reminders created within the same second
// cannot collide.
func NewReminderID(fireAt int64) string {
	return fmt.Sprintf("reminder_%d_%04x", fireAt, rand.Uint32N(0x10000))
}

// Start restores ledger state and begins the event-bus polling loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.RestoreReminders(ctx); err != nil {
		s.logger.Error("reminder recovery failed", "error", err)
	}
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("reminder scheduler started", "poll_interval", s.interval)
}

// Stop cancels the polling loop and waits for it to exit. Registered timers
// are owned by the timer engine and stop with it.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

// Counters returns a snapshot of the health counters.
func (s *Scheduler) Counters() Health {
	return Health{
		MalformedEvents:    s.malformedEvents.Load(),
		PastDueCreations:   s.pastDueCreations.Load(),
		MissingFieldEvents: s.missingFieldEvents.Load(),
		OrphanedReminders:  s.orphanedReminders.Load(),
	}
}

// RestoreReminders rebuilds timer state from the ledger after a restart.
// Future rows are re-registered as jobs; past-due rows fire about a second
// from now tagged as delayed; rows missing an id are discarded as orphans.
// This is the only place invalid persisted state is actively removed.
func (s *Scheduler) RestoreReminders(ctx context.Context) error {
	rows, err := s.store.ListAllReminders(ctx)
	if err != nil {
		return fmt.Errorf("load pending reminders: %w", err)
	}
	if len(rows) == 0 {
		s.logger.Info("no reminders to restore")
		return nil
	}

	s.logger.Info("restoring reminders", "count", len(rows))
	now := time.Now()
	restored, missed := 0, 0

	for _, row := range rows {
		if row.ID == "" {
			s.orphanedReminders.Add(1)
			if err := s.store.RemoveReminder(ctx, row.ID, row.OwnerID); err != nil {
				s.logger.Error("failed to discard orphaned ledger row", "owner_id", row.OwnerID, "error", err)
			}
			continue
		}

		fireAt := time.Unix(row.FireAt, 0)
		if fireAt.After(now) {
			s.register(ctx, row.ID, row.OwnerID, row.Prompt, fireAt)
			restored++
			continue
		}

		// Missed while the process was down: fire shortly, tagged delayed.
		// The ledger row stays until the fire path removes it, so a crash
		// before the catch-up fire keeps the obligation alive.
		s.register(ctx, row.ID, row.OwnerID, delayedPrefix+row.Prompt, now.Add(time.Second))
		missed++
		s.logger.Warn("found missed reminder, scheduling catch-up fire",
			"reminder_id", row.ID,
			"owner_id", row.OwnerID,
			"overdue", now.Sub(fireAt),
		)
	}

	s.logger.Info("reminder recovery complete",
		"restored", restored,
		"missed", missed,
		"orphaned", s.orphanedReminders.Load(),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

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

// Tick drains all pending bus events and applies the create/clear paths.
// Exported so callers that need synchronous visibility (tests, maintenance)
// can force a drain between the fixed intervals.
func (s *Scheduler) Tick(ctx context.Context) {
	events, malformed, err := s.bus.DrainPending(ctx)
	if err != nil {
		s.logger.Error("event bus drain failed", "error", err)
		return
	}
	if len(malformed) > 0 {
		total := s.malformedEvents.Add(int64(len(malformed)))
		s.tel.AddMalformedEvents(ctx, int64(len(malformed)))
		s.logger.Warn("quarantined malformed event payloads",
			"count", len(malformed),
			"cumulative", total,
		)
	}
	if len(events) > 0 {
		s.tel.AddEventsDrained(ctx, int64(len(events)))
	}

	for _, ev := range events {
		switch ev.Kind {
		case bus.KindReminder:
			s.handleCreate(ctx, ev)
		case bus.KindClearReminder:
			s.handleClear(ctx, ev)
		default:
			s.missingFieldEvents.Add(1)
			s.logger.Warn("event with unknown kind skipped", "kind", ev.Kind, "owner_id", ev.OwnerID)
		}
	}
}

// handleCreate registers a timer and writes the ledger row for a creation
// event. Past-due creations are tolerated, not rejected: the design favors
// firing late over silently dropping.
func (s *Scheduler) handleCreate(ctx context.Context, ev bus.ReminderEvent) {
	if ev.FireAt == 0 || ev.Prompt == "" {
		total := s.missingFieldEvents.Add(1)
		s.logger.Warn("reminder event missing fire_at or prompt, skipped",
			"owner_id", ev.OwnerID,
			"cumulative", total,
		)
		return
	}

	fireAt := time.Unix(int64(ev.FireAt), 0)
	id := ev.ID
	if id == "" {
		id = NewReminderID(int64(ev.FireAt))
	}

	now := time.Now()
	prompt := ev.Prompt
	runAt := fireAt
	if !fireAt.After(now) {
		total := s.pastDueCreations.Add(1)
		prompt = delayedPrefix + prompt
		runAt = now.Add(time.Second)
		s.logger.Warn("reminder created with past-due fire time, firing shortly",
			"reminder_id", id,
			"owner_id", ev.OwnerID,
			"cumulative_past_due", total,
		)
	}

	if err := s.store.UpsertReminder(ctx, id, ev.OwnerID, int64(ev.FireAt), ev.Prompt); err != nil {
		s.logger.Error("ledger upsert failed, reminder not scheduled",
			"reminder_id", id,
			"owner_id", ev.OwnerID,
			"error", err,
		)
		return
	}
	s.register(ctx, id, ev.OwnerID, prompt, runAt)
	s.logger.Info("reminder scheduled",
		"reminder_id", id,
		"owner_id", ev.OwnerID,
		"fire_at", fireAt,
	)
}

// handleClear cancels the live job and removes the ledger row, but only after
// confirming the row belongs to the event's owner. Without the lookup a clear
// naming someone else's id would cancel their in-memory timer.
func (s *Scheduler) handleClear(ctx context.Context, ev bus.ReminderEvent) {
	id := ev.ReminderID
	if id == "" {
		id = ev.ID
	}
	if id == "" {
		total := s.missingFieldEvents.Add(1)
		s.logger.Warn("clear event missing reminder_id", "owner_id", ev.OwnerID, "cumulative", total)
		return
	}

	_, owned, err := s.store.GetReminder(ctx, id, ev.OwnerID)
	if err != nil {
		s.logger.Error("ledger lookup failed on clear", "reminder_id", id, "owner_id", ev.OwnerID, "error", err)
		return
	}
	if !owned {
		s.logger.Info("clear for unknown reminder ignored", "reminder_id", id, "owner_id", ev.OwnerID)
		return
	}
	if s.jobs.HasJob(id) {
		s.jobs.RemoveJob(id)
	}
	if err := s.store.RemoveReminder(ctx, id, ev.OwnerID); err != nil {
		s.logger.Error("ledger remove failed on clear", "reminder_id", id, "owner_id", ev.OwnerID, "error", err)
		return
	}
	s.logger.Info("reminder cleared", "reminder_id", id, "owner_id", ev.OwnerID)
}

// register adds the in-memory job for a ledger row. The job callback runs on
// its own goroutine; it must never observe the scheduler's poll loop.
func (s *Scheduler) register(ctx context.Context, id, ownerID, prompt string, runAt time.Time) {
	s.jobs.AddJob(runAt, id, func() {
		s.fire(ctx, id, ownerID, prompt)
	})
}

// fire is the timer callback: compose a message scoped to the owner,
// dispatch it, then remove the ledger row. Downstream failures are logged
// but the row is still cleared, preventing fire loops at the cost of
// at-most-one delivery attempt.
func (s *Scheduler) fire(ctx context.Context, id, ownerID, prompt string) {
	ctx, span := s.tel.StartSpan(ctx, "reminder.fire")
	defer span.End()

	requestID := shared.NewRequestID()
	s.logger.Info("reminder fired", "reminder_id", id, "owner_id", ownerID, "request_id", requestID)

	trigger := fmt.Sprintf(
		"[SYSTEM_EVENT] A reminder is due. The original plan was: %q. "+
			"Compose a short, friendly reminder message for the user based on this instruction and your current memory.",
		prompt,
	)

	text, err := s.composer.Chat(ctx, ownerID, requestID, trigger)
	if err != nil || text == "" {
		if err != nil {
			s.logger.Error("reminder compose failed, sending plain text",
				"reminder_id", id,
				"owner_id", ownerID,
				"error", err,
			)
		}
		text = "Reminder: " + prompt
	}

	if !s.sender.SendText(ctx, ownerID, text) {
		s.logger.Error("reminder delivery failed", "reminder_id", id, "owner_id", ownerID)
	}

	if err := s.store.RemoveReminder(ctx, id, ownerID); err != nil {
		s.logger.Error("ledger remove failed after fire, reminder may fire again on restart",
			"reminder_id", id,
			"owner_id", ownerID,
			"error", err,
		)
		return
	}
	s.tel.AddReminderFired(ctx)
	s.logger.Info("reminder completed and removed from ledger", "reminder_id", id, "owner_id", ownerID)
}

// Summary renders the owner's pending reminders for injection into prompts
// and chat replies. Each line carries the id, the prompt, and a due time:
// relative within the next hour, absolute beyond that.
func (s *Scheduler) Summary(ctx context.Context, ownerID string) string {
	rows, err := s.store.ListRemindersForOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("summary query failed", "owner_id", ownerID, "error", err)
		return "No pending reminders."
	}
	if len(rows) == 0 {
		return "No pending reminders."
	}

	now := time.Now()
	lines := []string{"Pending reminders:"}
	for _, r := range rows {
		due := time.Unix(r.FireAt, 0)
		var when string
		switch diff := due.Sub(now); {
		case diff <= 0:
			when = "overdue"
		case diff < time.Hour:
			when = fmt.Sprintf("in %ds", int(diff.Seconds()))
		default:
			when = due.Format("01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("- (ID: %s) %s (due: %s)", r.ID, r.Prompt, when))
	}

	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}
