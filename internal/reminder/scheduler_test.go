package reminder_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/reminder"
	"github.com/amayahq/amaya/internal/timer"
)

// waitFor polls cond until it returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  bool
	notif chan struct{}
}

type sentMessage struct {
	ownerID string
	text    string
}

func newFakeSender() *fakeSender {
	return &fakeSender{notif: make(chan struct{}, 64)}
}

func (f *fakeSender) SendText(_ context.Context, ownerID, text string) bool {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{ownerID: ownerID, text: text})
	f.mu.Unlock()
	select {
	case f.notif <- struct{}{}:
	default:
	}
	return !f.fail
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeComposer echoes the trigger prompt so tests can assert on its content.
type fakeComposer struct {
	delay time.Duration
	err   error
}

func (f *fakeComposer) Chat(_ context.Context, _, _ string, prompt string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return prompt, nil
}

type rig struct {
	store    *persistence.Store
	bus      *bus.Bus
	jobs     *timer.Engine
	sender   *fakeSender
	composer *fakeComposer
	sched    *reminder.Scheduler
}

func newRig(t *testing.T) *rig {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "amaya.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.DiscardHandler)
	jobs := timer.New(timer.Config{Logger: logger})
	jobs.Start(context.Background())
	t.Cleanup(jobs.Stop)

	sender := newFakeSender()
	composer := &fakeComposer{}
	b := bus.New(store, logger)
	sched := reminder.NewScheduler(reminder.Config{
		Store:        store,
		Bus:          b,
		Jobs:         jobs,
		Sender:       sender,
		Composer:     composer,
		Logger:       logger,
		PollInterval: 50 * time.Millisecond,
	})
	return &rig{store: store, bus: b, jobs: jobs, sender: sender, composer: composer, sched: sched}
}

func createEvent(id, ownerID, prompt string, fireAt time.Time) bus.ReminderEvent {
	return bus.ReminderEvent{
		Kind:    bus.KindReminder,
		ID:      id,
		OwnerID: ownerID,
		FireAt:  float64(fireAt.Unix()),
		Prompt:  prompt,
	}
}

func TestRoundTrip(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	fireAt := time.Now().Add(1 * time.Second)
	if !r.bus.Append(ctx, createEvent("reminder_rt_1", "000001", "water the plants", fireAt), "000001") {
		t.Fatal("append failed")
	}

	r.sched.Tick(ctx)
	if !r.jobs.HasJob("reminder_rt_1") {
		t.Fatal("expected registered job after drain")
	}
	rows, err := r.store.ListRemindersForOwner(ctx, "000001")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d (err %v)", len(rows), err)
	}

	waitFor(t, 3*time.Second, func() bool { return len(r.sender.messages()) == 1 })
	msg := r.sender.messages()[0]
	if msg.ownerID != "000001" {
		t.Fatalf("message sent to wrong owner: %s", msg.ownerID)
	}
	if !strings.Contains(msg.text, "water the plants") {
		t.Fatalf("composed message missing reminder text: %q", msg.text)
	}

	waitFor(t, 2*time.Second, func() bool {
		rows, err := r.store.ListRemindersForOwner(ctx, "000001")
		return err == nil && len(rows) == 0
	})
}

func TestRecoveryFidelity(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	now := time.Now()
	if err := r.store.UpsertReminder(ctx, "reminder_future", "000001", now.Add(time.Hour).Unix(), "call mom"); err != nil {
		t.Fatalf("seed future: %v", err)
	}
	if err := r.store.UpsertReminder(ctx, "reminder_missed", "000001", now.Add(-time.Minute).Unix(), "take medicine"); err != nil {
		t.Fatalf("seed missed: %v", err)
	}

	if err := r.sched.RestoreReminders(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if !r.jobs.HasJob("reminder_future") {
		t.Fatal("future reminder not re-registered")
	}
	if !r.jobs.HasJob("reminder_missed") {
		t.Fatal("missed reminder not scheduled for catch-up")
	}

	waitFor(t, 3*time.Second, func() bool { return len(r.sender.messages()) == 1 })
	msg := r.sender.messages()[0]
	if !strings.Contains(msg.text, "[delayed] take medicine") {
		t.Fatalf("catch-up fire not tagged delayed: %q", msg.text)
	}

	waitFor(t, 2*time.Second, func() bool {
		rows, err := r.store.ListRemindersForOwner(ctx, "000001")
		return err == nil && len(rows) == 1 && rows[0].ID == "reminder_future"
	})
}

func TestRecoveryDiscardsOrphans(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.store.UpsertReminder(ctx, "", "000001", time.Now().Add(time.Hour).Unix(), "no id"); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	if err := r.sched.RestoreReminders(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := r.sched.Counters().OrphanedReminders; got != 1 {
		t.Fatalf("orphan counter = %d, want 1", got)
	}
	rows, err := r.store.ListRemindersForOwner(ctx, "000001")
	if err != nil || len(rows) != 0 {
		t.Fatalf("orphan row not discarded: %d rows (err %v)", len(rows), err)
	}
}

func TestClearCancelsScheduled(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	fireAt := time.Now().Add(time.Hour)
	r.bus.Append(ctx, createEvent("reminder_c1", "000001", "standup", fireAt), "000001")
	r.sched.Tick(ctx)
	if !r.jobs.HasJob("reminder_c1") {
		t.Fatal("job not registered")
	}

	r.bus.Append(ctx, bus.ReminderEvent{Kind: bus.KindClearReminder, ReminderID: "reminder_c1", OwnerID: "000001"}, "000001")
	r.sched.Tick(ctx)

	if r.jobs.HasJob("reminder_c1") {
		t.Fatal("job still registered after clear")
	}
	rows, err := r.store.ListRemindersForOwner(ctx, "000001")
	if err != nil || len(rows) != 0 {
		t.Fatalf("ledger row survived clear: %d rows (err %v)", len(rows), err)
	}
	if len(r.sender.messages()) != 0 {
		t.Fatal("cleared reminder must not fire")
	}
}

func TestClearUnknownIsNoop(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.bus.Append(ctx, bus.ReminderEvent{Kind: bus.KindClearReminder, ReminderID: "reminder_ghost", OwnerID: "000001"}, "000001")
	r.sched.Tick(ctx)

	if got := r.sched.Counters().MissingFieldEvents; got != 0 {
		t.Fatalf("well-formed clear counted as missing fields: %d", got)
	}
}

func TestClearDuringFireIsAccepted(t *testing.T) {
	r := newRig(t)
	r.composer.delay = 300 * time.Millisecond
	ctx := context.Background()

	r.bus.Append(ctx, createEvent("reminder_race", "000001", "stretch", time.Now()), "000001")
	r.sched.Tick(ctx)

	// Wait for the catch-up fire to enter the slow compose call, then clear.
	time.Sleep(1200 * time.Millisecond)
	r.bus.Append(ctx, bus.ReminderEvent{Kind: bus.KindClearReminder, ReminderID: "reminder_race", OwnerID: "000001"}, "000001")
	r.sched.Tick(ctx)

	waitFor(t, 3*time.Second, func() bool { return len(r.sender.messages()) >= 1 })
	waitFor(t, 2*time.Second, func() bool {
		rows, err := r.store.ListRemindersForOwner(ctx, "000001")
		return err == nil && len(rows) == 0
	})
	if got := len(r.sender.messages()); got != 1 {
		t.Fatalf("reminder delivered %d times, want 1", got)
	}
}

func TestPastDueCreationFiresDelayed(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.bus.Append(ctx, createEvent("reminder_past", "000001", "overdue thing", time.Now().Add(-5*time.Minute)), "000001")
	r.sched.Tick(ctx)

	if got := r.sched.Counters().PastDueCreations; got != 1 {
		t.Fatalf("past-due counter = %d, want 1", got)
	}
	waitFor(t, 3*time.Second, func() bool { return len(r.sender.messages()) == 1 })
	if msg := r.sender.messages()[0]; !strings.Contains(msg.text, "[delayed] overdue thing") {
		t.Fatalf("past-due fire not tagged delayed: %q", msg.text)
	}
}

func TestMissingFieldsSkipped(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.bus.Append(ctx, bus.ReminderEvent{Kind: bus.KindReminder, ID: "reminder_nofire", OwnerID: "000001", Prompt: "no time"}, "000001")
	r.bus.Append(ctx, createEvent("reminder_noprompt", "000001", "", time.Now().Add(time.Hour)), "000001")
	r.sched.Tick(ctx)

	if got := r.sched.Counters().MissingFieldEvents; got != 2 {
		t.Fatalf("missing-field counter = %d, want 2", got)
	}
	if r.jobs.JobCount() != 0 {
		t.Fatalf("jobs registered for unusable events: %d", r.jobs.JobCount())
	}
}

func TestMalformedPayloadCountedOnce(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.store.AppendSysEvent(ctx, "000001", "ev_bad", "reminder", "{not json"); err != nil {
		t.Fatalf("seed malformed: %v", err)
	}

	r.sched.Tick(ctx)
	if got := r.sched.Counters().MalformedEvents; got != 1 {
		t.Fatalf("malformed counter after first drain = %d, want 1", got)
	}
	r.sched.Tick(ctx)
	if got := r.sched.Counters().MalformedEvents; got != 1 {
		t.Fatalf("malformed row retried: counter = %d, want 1", got)
	}
}

func TestComposeFailureStillDeliversAndClears(t *testing.T) {
	r := newRig(t)
	r.composer.err = errors.New("model unavailable")
	ctx := context.Background()

	r.bus.Append(ctx, createEvent("reminder_cf", "000001", "drink water", time.Now()), "000001")
	r.sched.Tick(ctx)

	waitFor(t, 3*time.Second, func() bool { return len(r.sender.messages()) == 1 })
	if msg := r.sender.messages()[0]; !strings.Contains(msg.text, "drink water") {
		t.Fatalf("fallback message missing reminder text: %q", msg.text)
	}
	waitFor(t, 2*time.Second, func() bool {
		rows, err := r.store.ListRemindersForOwner(ctx, "000001")
		return err == nil && len(rows) == 0
	})
}

func TestOwnerIsolation(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	far := time.Now().Add(time.Hour)
	r.bus.Append(ctx, createEvent("reminder_a", "000001", "alpha task", far), "000001")
	r.bus.Append(ctx, createEvent("reminder_b", "000002", "beta task", far), "000002")
	r.sched.Tick(ctx)

	// A clear from the wrong owner must not touch the row.
	r.bus.Append(ctx, bus.ReminderEvent{Kind: bus.KindClearReminder, ReminderID: "reminder_b", OwnerID: "000001"}, "000001")
	r.sched.Tick(ctx)

	rowsB, err := r.store.ListRemindersForOwner(ctx, "000002")
	if err != nil || len(rowsB) != 1 {
		t.Fatalf("cross-owner clear removed ledger row: %d rows (err %v)", len(rowsB), err)
	}
	if !r.jobs.HasJob("reminder_b") {
		t.Fatal("cross-owner clear cancelled the other owner's timer")
	}

	sumA := r.sched.Summary(ctx, "000001")
	if !strings.Contains(sumA, "alpha task") || strings.Contains(sumA, "beta task") {
		t.Fatalf("summary leaked across owners: %q", sumA)
	}

	// The real owner can still clear it.
	r.bus.Append(ctx, bus.ReminderEvent{Kind: bus.KindClearReminder, ReminderID: "reminder_b", OwnerID: "000002"}, "000002")
	r.sched.Tick(ctx)
	if r.jobs.HasJob("reminder_b") {
		t.Fatal("owner's own clear left the timer registered")
	}
	rowsB, err = r.store.ListRemindersForOwner(ctx, "000002")
	if err != nil || len(rowsB) != 0 {
		t.Fatalf("owner's own clear left ledger row: %d rows (err %v)", len(rowsB), err)
	}
}

func TestSummary(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if got := r.sched.Summary(ctx, "000001"); got != "No pending reminders." {
		t.Fatalf("empty summary = %q", got)
	}

	now := time.Now()
	soon := now.Add(10 * time.Minute)
	later := now.Add(26 * time.Hour)
	r.store.UpsertReminder(ctx, "reminder_s1", "000001", soon.Unix(), "soon task")
	r.store.UpsertReminder(ctx, "reminder_s2", "000001", later.Unix(), "later task")

	sum := r.sched.Summary(ctx, "000001")
	if !strings.Contains(sum, "(ID: reminder_s1)") || !strings.Contains(sum, "soon task") {
		t.Fatalf("summary missing near entry: %q", sum)
	}
	if !strings.Contains(sum, later.Format("01-02 15:04")) {
		t.Fatalf("far entry not rendered with absolute time: %q", sum)
	}
}

func TestPollLoopDrains(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.sched.Start(ctx)
	defer r.sched.Stop()

	r.bus.Append(ctx, createEvent("reminder_loop", "000001", "loop task", time.Now().Add(time.Hour)), "000001")
	waitFor(t, 3*time.Second, func() bool { return r.jobs.HasJob("reminder_loop") })
}

func TestManyRemindersFireOnce(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	const n = 10
	fireAt := time.Now().Add(500 * time.Millisecond)
	for i := 0; i < n; i++ {
		r.bus.Append(ctx, createEvent(fmt.Sprintf("reminder_m%d", i), "000001", fmt.Sprintf("task %d", i), fireAt), "000001")
	}
	r.sched.Tick(ctx)

	waitFor(t, 5*time.Second, func() bool { return len(r.sender.messages()) == n })
	time.Sleep(200 * time.Millisecond)
	if got := len(r.sender.messages()); got != n {
		t.Fatalf("delivered %d messages, want exactly %d", got, n)
	}
	waitFor(t, 2*time.Second, func() bool {
		rows, err := r.store.ListRemindersForOwner(ctx, "000001")
		return err == nil && len(rows) == 0
	})
}
