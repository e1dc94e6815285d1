// Package bus is the durable event queue through which reminder create and
// clear requests cross from tool-call context into the scheduler's control
// loop. Events persist in the store with a status column; consumption is an
// atomic pending→processed transition, so a request appended by a tool call
// survives a crash until the poll loop has actually acted on it.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/shared"
)

// Event kinds.
const (
	KindReminder      = "reminder"
	KindClearReminder = "clear_reminder"
)

// ReminderEvent is the bus payload for both reminder creation and clearing.
type ReminderEvent struct {
	Kind       string  `json:"type"`
	ID         string  `json:"id,omitempty"`
	ReminderID string  `json:"reminder_id,omitempty"` // clear events name their target here
	OwnerID    string  `json:"owner_id,omitempty"`
	CreatedAt  float64 `json:"created_at,omitempty"` // epoch seconds
	FireAt     float64 `json:"fire_at,omitempty"`    // epoch seconds, create only
	Prompt     string  `json:"prompt,omitempty"`
}

// Bus is the append/drain API over the durable event table.
type Bus struct {
	store  *persistence.Store
	logger *slog.Logger
}

// New creates a Bus over the given store.
func New(store *persistence.Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{store: store, logger: logger}
}

// Append serializes the event and inserts it as pending. The owner id is
// stamped from the argument when the event does not carry one. Returns false
// on serialization or storage failure; it never panics into the caller,
// because tool calls must always return a string to the LLM.
func (b *Bus) Append(ctx context.Context, ev ReminderEvent, ownerID string) bool {
	if ev.OwnerID == "" {
		ev.OwnerID = ownerID
	}
	if ev.OwnerID == "" {
		ev.OwnerID = shared.DefaultOwnerID
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = float64(time.Now().Unix())
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("event serialization failed", "kind", ev.Kind, "error", err)
		return false
	}
	if err := b.store.AppendSysEvent(ctx, ev.OwnerID, ev.ID, ev.Kind, string(payload)); err != nil {
		b.logger.Error("event append failed", "kind", ev.Kind, "owner_id", ev.OwnerID, "error", err)
		return false
	}
	return true
}

// DrainPending consumes the pending event set exactly once and returns the
// parsed events in insertion order plus the raw payloads that could not be
// deserialized (quarantined in the store, never retried). An empty pending
// set returns (nil, nil, nil) without a write transaction.
func (b *Bus) DrainPending(ctx context.Context) ([]ReminderEvent, []string, error) {
	rows, malformed, err := b.store.DrainSysEvents(ctx)
	if err != nil {
		return nil, nil, err
	}

	var events []ReminderEvent
	for _, row := range rows {
		var ev ReminderEvent
		// The store already verified the payload is a JSON object; mapping
		// it onto the typed event cannot fail, but unknown shapes simply
		// produce zero fields and are handled downstream as missing-field
		// events.
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
			malformed = append(malformed, row.Payload)
			continue
		}
		if ev.OwnerID == "" {
			ev.OwnerID = row.OwnerID
		}
		events = append(events, ev)
	}
	return events, malformed, nil
}
