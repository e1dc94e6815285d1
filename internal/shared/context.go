// Package shared holds small cross-cutting helpers: context carriers for the
// identifiers that cross the tool boundary, and secret redaction for logs.
//
// Core packages take owner ids as explicit parameters. The context carriers
// exist only for the genkit tool boundary, where tool callbacks receive no
// arguments beyond their typed input and the turn's context.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type ownerIDKey struct{}
type requestIDKey struct{}

// DefaultOwnerID is the fallback owner for events that arrive without one.
const DefaultOwnerID = "000001"

// WithOwnerID attaches an owner_id to the context for the duration of a turn.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey{}, ownerID)
}

// OwnerID extracts the owner_id from context. Returns "" if absent.
func OwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID attaches a request_id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID extracts the request_id from context. Returns "-" if absent.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewRequestID generates a fresh request_id.
func NewRequestID() string {
	return uuid.NewString()
}
