package tools

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/memory"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/shared"
)

func TestParseTargetTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(time.Time) bool
	}{
		{
			name:  "date and time with seconds",
			input: "2026-09-01 08:30:15",
			check: func(tm time.Time) bool { return tm.Hour() == 8 && tm.Second() == 15 },
		},
		{
			name:  "date and time without seconds",
			input: "2026-09-01 08:30",
			check: func(tm time.Time) bool { return tm.Minute() == 30 && tm.Second() == 0 },
		},
		{
			name:  "rfc3339",
			input: "2026-09-01T08:30:00Z",
			check: func(tm time.Time) bool { return tm.UTC().Hour() == 8 },
		},
		{
			name:  "surrounding whitespace",
			input: "  2026-09-01 08:30  ",
			check: func(tm time.Time) bool { return tm.Minute() == 30 },
		},
		{
			name:    "garbage",
			input:   "tomorrow at noon",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTargetTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseTargetTime(%q) accepted garbage: %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTargetTime(%q): %v", tt.input, err)
			}
			if !tt.check(got) {
				t.Errorf("parseTargetTime(%q) = %v", tt.input, got)
			}
		})
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "amaya.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.DiscardHandler)
	return NewRegistry(
		store,
		bus.New(store, logger),
		memory.NewBank(t.TempDir()),
		memory.NewPinManager(store),
		logger,
	)
}

func TestRegisterAll(t *testing.T) {
	reg := newTestRegistry(t)
	g := genkit.Init(context.Background())
	reg.RegisterAll(g)

	// 3 reminder tools + 3 schedule tools + 5 memory tools.
	if len(reg.Tools) != 11 {
		t.Fatalf("expected 11 registered tools, got %d", len(reg.Tools))
	}
}

func TestRegisterAll_NoBankSkipsMemoryTools(t *testing.T) {
	reg := newTestRegistry(t)
	reg.Bank = nil
	g := genkit.Init(context.Background())
	reg.RegisterAll(g)

	if len(reg.Tools) != 6 {
		t.Fatalf("expected 6 registered tools without memory bank, got %d", len(reg.Tools))
	}
}

func TestOwnerFromFallsBack(t *testing.T) {
	ctx := context.Background()
	if got := shared.OwnerID(ctx); got != "" {
		t.Fatalf("untagged context carries owner %q", got)
	}
	ctx = shared.WithOwnerID(ctx, "000042")
	if got := shared.OwnerID(ctx); got != "000042" {
		t.Fatalf("owner id = %q, want 000042", got)
	}
}
