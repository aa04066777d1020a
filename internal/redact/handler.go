package redact

import (
	"context"
	"log/slog"
)

// Handler is a slog.Handler that sanitizes every record before passing it to
// the wrapped handler. Messages and string attribute values go through
// Sanitize; attributes stored under a sensitive key are replaced by Mask.
type Handler struct {
	next            slog.Handler
	redactHostnames bool
}

// NewHandler wraps next so that no credential material reaches its output.
func NewHandler(next slog.Handler, redactHostnames bool) *Handler {
	return &Handler{next: next, redactHostnames: redactHostnames}
}

// Enabled reports whether the wrapped handler handles records at level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle sanitizes r and forwards it.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, Sanitize(r.Message, h.redactHostnames), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

// WithAttrs sanitizes attrs once, up front.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.attr(a)
	}
	return &Handler{next: h.next.WithAttrs(clean), redactHostnames: h.redactHostnames}
}

// WithGroup returns a handler that nests subsequent attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), redactHostnames: h.redactHostnames}
}

func (h *Handler) attr(a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Mask)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Sanitize(v.String(), h.redactHostnames))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = h.attr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		return slog.Any(a.Key, Scrub(v.Any(), h.redactHostnames))
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}
