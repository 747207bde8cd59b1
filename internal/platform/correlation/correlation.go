// Package correlation tags contexts with a short random ID so that log lines
// belonging to one inbound message or HTTP request can be grouped.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

const (
	// Header carries a caller-supplied ID on HTTP requests and responses.
	Header = "X-Correlation-ID"

	// AttrKey is the log attribute the Handler adds.
	AttrKey = "correlation_id"

	maxIDLength = 64
)

type contextKey struct{}

// NewID returns 8 hex characters.
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// New attaches a fresh ID to ctx.
func New(ctx context.Context) context.Context {
	return WithID(ctx, NewID())
}

// ID reports ("", false) when ctx carries no ID or an empty one.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Valid reports whether a caller-supplied ID is safe to adopt: non-empty, at
// most 64 characters, letters, digits, '-' and '_' only.
func Valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Handler adds AttrKey to every record whose context carries an ID.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String(AttrKey, id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
