// Package channels connects the assistant to messaging platforms. A channel
// listens for inbound messages, resolves the sender to an internal user id,
// and delivers the assistant's replies and reminders back out.
package channels

import (
	"context"
)

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins listening for messages. It blocks until the context is
	// canceled or a fatal error occurs.
	Start(ctx context.Context) error
}

// Responder produces the assistant's reply to an inbound message.
type Responder interface {
	Chat(ctx context.Context, ownerID, requestID, prompt string) (string, error)
}
