package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/memory"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/tools"
)

func newOfflineBrain(t *testing.T) (*GenkitBrain, *persistence.Store) {
	t.Helper()

	// Make sure no ambient key turns the fallback path into a live call.
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	store, err := persistence.Open(filepath.Join(t.TempDir(), "amaya.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.DiscardHandler)
	bank := memory.NewBank(t.TempDir())
	registry := tools.NewRegistry(store, bus.New(store, logger), bank, memory.NewPinManager(store), logger)
	cb := &memory.ContextBuilder{Bank: bank, Pins: memory.NewPinManager(store), Logger: logger}

	brain := NewGenkitBrain(context.Background(), store, registry, cb, logger, nil, BrainConfig{
		Provider: "google",
	})
	return brain, store
}

func TestChat_FallbackWithoutKey(t *testing.T) {
	brain, store := newOfflineBrain(t)
	ctx := context.Background()

	if brain.LLMEnabled() {
		t.Fatal("brain claims a live provider without an API key")
	}

	reply, err := brain.Chat(ctx, "000001", "req-1", "hello there")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply == "" {
		t.Fatal("expected deterministic fallback reply")
	}

	// The prompt is still recorded even in fallback mode.
	items, err := store.ListHistory(ctx, "000001", 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(items) != 1 || items[0].Role != "user" || items[0].Text != "hello there" {
		t.Fatalf("unexpected history: %+v", items)
	}
}

func TestChat_SystemEventWithoutKey(t *testing.T) {
	brain, store := newOfflineBrain(t)
	ctx := context.Background()

	_, err := brain.Chat(ctx, "000001", "req-2", "[SYSTEM_EVENT] A reminder is due.")
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel for system event, got %v", err)
	}

	items, _ := store.ListHistory(ctx, "000001", 10)
	if len(items) != 1 || items[0].Role != "system" {
		t.Fatalf("system event not recorded with system role: %+v", items)
	}
}

func TestChat_EmptyPromptRejected(t *testing.T) {
	brain, _ := newOfflineBrain(t)
	if _, err := brain.Chat(context.Background(), "000001", "", "   "); err == nil {
		t.Fatal("empty prompt accepted")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	brain, _ := newOfflineBrain(t)
	ctx := context.Background()

	brain.context.Bank.WriteCore("000001", "User is 100% committed to the gym.")
	prompt := brain.buildSystemPrompt(ctx, "000001")

	if !strings.Contains(prompt, "Amaya") {
		t.Errorf("default persona missing: %q", prompt)
	}
	// Percent signs must be escaped for ai.WithSystem.
	if !strings.Contains(prompt, "100%%") {
		t.Errorf("percent not escaped: %q", prompt)
	}

	brain.UpdatePersona("You are Test Persona.")
	prompt = brain.buildSystemPrompt(ctx, "000001")
	if !strings.Contains(prompt, "Test Persona") {
		t.Errorf("updated persona not used: %q", prompt)
	}
}

func TestHistoryToMessages(t *testing.T) {
	items := []persistence.HistoryItem{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
		{Role: "system", Text: "event"},
		{Role: "tool", Text: "result"},
		{Role: "bogus", Text: "dropped"},
	}
	msgs := historyToMessages(items)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	wantRoles := []ai.Role{ai.RoleUser, ai.RoleModel, ai.RoleSystem, ai.RoleTool}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d role = %v, want %v", i, msgs[i].Role, want)
		}
	}
}

func TestModelNameForProvider(t *testing.T) {
	tests := []struct {
		provider, model, want string
	}{
		{"google", "gemini-2.5-pro", "googleai/gemini-2.5-pro"},
		{"google", "", "googleai/gemini-2.5-flash"},
		{"anthropic", "claude-sonnet-4-5", "anthropic/claude-sonnet-4-5"},
		{"anthropic", "", "anthropic/claude-sonnet-4-5"},
		{"openai_compatible", "qwen-max", "qwen-max"},
	}
	for _, tt := range tests {
		if got := modelNameForProvider(tt.provider, tt.model); got != tt.want {
			t.Errorf("modelNameForProvider(%q, %q) = %q, want %q", tt.provider, tt.model, got, tt.want)
		}
	}
}

