package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/amayahq/amaya/internal/persistence"
)

const (
	pinKeyPrefix  = "pin:"
	maxPinBytes   = 50 * 1024
	maxPinEntries = 50
)

// Pin is a labeled snippet the owner asked to keep in every conversation.
type Pin struct {
	Label   string
	Content string
}

// PinManager stores pinned context entries in the owner-scoped meta table.
type PinManager struct {
	store *persistence.Store
}

// NewPinManager creates a pin manager backed by the given store.
func NewPinManager(store *persistence.Store) *PinManager {
	return &PinManager{store: store}
}

// AddPin stores or replaces a pin under the given label.
func (pm *PinManager) AddPin(ctx context.Context, ownerID, label, content string) error {
	if label == "" {
		return fmt.Errorf("memory: pin label cannot be empty")
	}
	if content == "" {
		return fmt.Errorf("memory: pin content cannot be empty")
	}
	if len(content) > maxPinBytes {
		return fmt.Errorf("memory: pin too large: %d bytes (max %d)", len(content), maxPinBytes)
	}

	existing, err := pm.ListPins(ctx, ownerID)
	if err != nil {
		return err
	}
	if len(existing) >= maxPinEntries && !hasPin(existing, label) {
		return fmt.Errorf("memory: pin limit reached (%d)", maxPinEntries)
	}
	return pm.store.MetaSet(ctx, ownerID, pinKeyPrefix+label, content)
}

// RemovePin deletes a pin. No-op when the label is unknown.
func (pm *PinManager) RemovePin(ctx context.Context, ownerID, label string) error {
	if label == "" {
		return fmt.Errorf("memory: pin label cannot be empty")
	}
	return pm.store.MetaDelete(ctx, ownerID, pinKeyPrefix+label)
}

// ListPins returns the owner's pins ordered by label.
func (pm *PinManager) ListPins(ctx context.Context, ownerID string) ([]Pin, error) {
	entries, err := pm.store.MetaListPrefix(ctx, ownerID, pinKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("memory: list pins: %w", err)
	}
	pins := make([]Pin, 0, len(entries))
	for _, e := range entries {
		pins = append(pins, Pin{
			Label:   strings.TrimPrefix(e.Key, pinKeyPrefix),
			Content: e.Value,
		})
	}
	return pins, nil
}

// FormatPins renders the owner's pins as a block for the context window.
// Returns "" when there are no pins.
func (pm *PinManager) FormatPins(ctx context.Context, ownerID string) (string, error) {
	pins, err := pm.ListPins(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if len(pins) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("<pinned_context>\n")
	for _, pin := range pins {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", pin.Label, pin.Content)
	}
	sb.WriteString("</pinned_context>")
	return sb.String(), nil
}

func hasPin(pins []Pin, label string) bool {
	for _, p := range pins {
		if p.Label == label {
			return true
		}
	}
	return false
}
