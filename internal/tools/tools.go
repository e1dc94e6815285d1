// Package tools defines the Genkit tools the assistant can call during a
// conversation: reminder scheduling, day schedules, and memory access. Every
// tool resolves its owner from the request context, so one tool set serves
// all users.
package tools

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/memory"
	"github.com/amayahq/amaya/internal/otel"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/shared"
)

// Registry holds all Genkit tool definitions and their shared dependencies.
type Registry struct {
	Store  *persistence.Store
	Bus    *bus.Bus
	Bank   *memory.Bank
	Pins   *memory.PinManager
	Logger *slog.Logger
	Tel    *otel.Instruments // optional
	Tools  []ai.ToolRef
}

// NewRegistry builds a Registry with the given dependencies.
func NewRegistry(store *persistence.Store, b *bus.Bus, bank *memory.Bank, pins *memory.PinManager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		Store:  store,
		Bus:    b,
		Bank:   bank,
		Pins:   pins,
		Logger: logger,
	}
}

// RegisterAll creates and registers all built-in tools with the Genkit
// instance and populates r.Tools for use in Generate calls.
func (r *Registry) RegisterAll(g *genkit.Genkit) {
	r.Tools = append(r.Tools, registerReminderTools(g, r)...)
	r.Tools = append(r.Tools, registerScheduleTools(g, r)...)
	if r.Bank != nil {
		r.Tools = append(r.Tools, registerMemoryTools(g, r)...)
	}
	r.Logger.Info("assistant tools registered", "count", len(r.Tools))
}

// ownerFrom resolves the acting owner from the tool context, falling back to
// the default owner for untagged calls.
func ownerFrom(ctx *ai.ToolContext) string {
	if id := shared.OwnerID(ctx); id != "" {
		return id
	}
	return shared.DefaultOwnerID
}
