// Package context carries correlation identifiers through request and command contexts.
package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorIDKey
)

// WithRequestID stores the request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActor stores the player id the command layer authenticated for this call.
func WithActor(ctx context.Context, playerID string) context.Context {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorIDKey, playerID)
}

// ActorFromContext returns the acting player id, or "".
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorIDKey).(string)
	return value
}
