package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SummaryFunc supplies a textual summary for one owner, such as the pending
// reminders list.
type SummaryFunc func(ctx context.Context, ownerID string) string

// ContextBuilder assembles the global context block injected into the system
// prompt of every conversation: current time, core memory, pinned entries,
// and pending reminders.
type ContextBuilder struct {
	Bank      *Bank
	Pins      *PinManager
	Reminders SummaryFunc // optional
	Logger    *slog.Logger
	Now       func() time.Time // test hook; defaults to time.Now
}

// Build renders the owner's context block. Failures in individual sections
// are logged and skipped so one bad source never blanks the whole context.
func (cb *ContextBuilder) Build(ctx context.Context, ownerID string) string {
	logger := cb.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if cb.Now != nil {
		now = cb.Now
	}

	var sections []string
	sections = append(sections, "Current time: "+now().Format("2006-01-02 15:04:05 Mon MST"))

	if cb.Bank != nil {
		core, err := cb.Bank.ReadCore(ownerID)
		if err != nil {
			logger.Warn("core memory unreadable, skipped", "owner_id", ownerID, "error", err)
		} else if core != "" {
			sections = append(sections, "<core_memory>\n"+strings.TrimSpace(core)+"\n</core_memory>")
		}
	}

	if cb.Pins != nil {
		pinned, err := cb.Pins.FormatPins(ctx, ownerID)
		if err != nil {
			logger.Warn("pinned context unreadable, skipped", "owner_id", ownerID, "error", err)
		} else if pinned != "" {
			sections = append(sections, pinned)
		}
	}

	if cb.Reminders != nil {
		if sum := cb.Reminders(ctx, ownerID); sum != "" {
			sections = append(sections, sum)
		}
	}

	return strings.Join(sections, "\n\n")
}
