// Package logx carries a correlation id on the context so that every log
// line emitted while serving one logical operation can be tied together.
package logx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithID returns a context carrying the given correlation id. An empty id
// generates a fresh one.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the correlation id bound to the context, or "" when absent.
func ID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Attr returns a slog attribute for the context's correlation id.
// Loggable even when no id is bound.
func Attr(ctx context.Context) slog.Attr {
	return slog.String("correlation_id", ID(ctx))
}
