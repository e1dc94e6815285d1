package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amayahq/amaya/internal/persistence"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "amaya.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBank_PerOwnerIsolation(t *testing.T) {
	bank := NewBank(t.TempDir())

	wsA, err := bank.ForOwner("000001")
	if err != nil {
		t.Fatalf("ForOwner A: %v", err)
	}
	wsB, err := bank.ForOwner("000002")
	if err != nil {
		t.Fatalf("ForOwner B: %v", err)
	}

	if err := wsA.Write("note.txt", "alpha"); err != nil {
		t.Fatalf("write A: %v", err)
	}
	if _, err := wsB.Read("note.txt"); err == nil {
		t.Error("owner B can read owner A's file")
	}

	// Same owner gets the same cached workspace.
	wsA2, _ := bank.ForOwner("000001")
	if wsA2 != wsA {
		t.Error("workspace not cached per owner")
	}
}

func TestBank_RejectsInvalidOwnerIDs(t *testing.T) {
	bank := NewBank(t.TempDir())
	for _, id := range []string{"", "1", "abcdef", "../etc", "0000001", "00000x"} {
		if _, err := bank.ForOwner(id); err == nil {
			t.Errorf("ForOwner(%q) accepted invalid owner id", id)
		}
	}
}

func TestBank_CoreMemory(t *testing.T) {
	bank := NewBank(t.TempDir())

	got, err := bank.ReadCore("000001")
	if err != nil {
		t.Fatalf("ReadCore first run: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty core memory, got %q", got)
	}

	if err := bank.WriteCore("000001", "# About the user\nLikes tea.\n"); err != nil {
		t.Fatalf("WriteCore: %v", err)
	}
	got, err = bank.ReadCore("000001")
	if err != nil {
		t.Fatalf("ReadCore: %v", err)
	}
	if !strings.Contains(got, "Likes tea.") {
		t.Fatalf("core memory mismatch: %q", got)
	}
}

func TestPinManager_AddListRemove(t *testing.T) {
	store := openTestStore(t)
	pm := NewPinManager(store)
	ctx := context.Background()

	if err := pm.AddPin(ctx, "000001", "", "x"); err == nil {
		t.Error("empty label accepted")
	}
	if err := pm.AddPin(ctx, "000001", "goals", ""); err == nil {
		t.Error("empty content accepted")
	}

	if err := pm.AddPin(ctx, "000001", "goals", "ship the release"); err != nil {
		t.Fatalf("AddPin: %v", err)
	}
	if err := pm.AddPin(ctx, "000001", "goals", "ship it this week"); err != nil {
		t.Fatalf("AddPin replace: %v", err)
	}
	if err := pm.AddPin(ctx, "000002", "goals", "someone else"); err != nil {
		t.Fatalf("AddPin other owner: %v", err)
	}

	pins, err := pm.ListPins(ctx, "000001")
	if err != nil {
		t.Fatalf("ListPins: %v", err)
	}
	if len(pins) != 1 || pins[0].Content != "ship it this week" {
		t.Fatalf("unexpected pins: %+v", pins)
	}

	if err := pm.RemovePin(ctx, "000001", "goals"); err != nil {
		t.Fatalf("RemovePin: %v", err)
	}
	pins, _ = pm.ListPins(ctx, "000001")
	if len(pins) != 0 {
		t.Fatalf("pin survived removal: %+v", pins)
	}
}

func TestPinManager_FormatPins(t *testing.T) {
	store := openTestStore(t)
	pm := NewPinManager(store)
	ctx := context.Background()

	out, err := pm.FormatPins(ctx, "000001")
	if err != nil || out != "" {
		t.Fatalf("empty format = %q (err %v)", out, err)
	}

	pm.AddPin(ctx, "000001", "diet", "less coffee")
	pm.AddPin(ctx, "000001", "goals", "ship the release")

	out, err = pm.FormatPins(ctx, "000001")
	if err != nil {
		t.Fatalf("FormatPins: %v", err)
	}
	if !strings.HasPrefix(out, "<pinned_context>") || !strings.HasSuffix(out, "</pinned_context>") {
		t.Fatalf("missing wrapper: %q", out)
	}
	if !strings.Contains(out, "--- diet ---") || !strings.Contains(out, "ship the release") {
		t.Fatalf("missing pin bodies: %q", out)
	}
}

func TestContextBuilder_Build(t *testing.T) {
	store := openTestStore(t)
	bank := NewBank(t.TempDir())
	pm := NewPinManager(store)
	ctx := context.Background()

	bank.WriteCore("000001", "User likes tea.")
	pm.AddPin(ctx, "000001", "goals", "ship the release")

	cb := &ContextBuilder{
		Bank: bank,
		Pins: pm,
		Reminders: func(_ context.Context, ownerID string) string {
			return "Pending reminders for " + ownerID
		},
	}

	out := cb.Build(ctx, "000001")
	for _, want := range []string{
		"Current time:",
		"<core_memory>",
		"User likes tea.",
		"<pinned_context>",
		"ship the release",
		"Pending reminders for 000001",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("context missing %q:\n%s", want, out)
		}
	}

	// Missing sections are skipped, never fatal.
	out = cb.Build(ctx, "000002")
	if strings.Contains(out, "core_memory") {
		t.Errorf("empty core memory rendered: %q", out)
	}
}
