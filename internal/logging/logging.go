// Package logging configures the process-wide slog handler and carries the
// per-cycle correlation identifier through context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel/trace"
)

// LevelCritical is logged when a runner gives up and enters the Failed state
const LevelCritical = slog.Level(12)

// Format selects the output encoding of the handler
type Format string

const (
	// FormatJSON emits one JSON object per record
	FormatJSON Format = "json"
	// FormatText emits colourised human-readable lines
	FormatText Format = "text"
)

type correlationKey struct{}

// NewCorrelationID returns a fresh correlation identifier
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a copy of ctx carrying id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, or an empty string
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info and false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "critical":
		return LevelCritical, true
	default:
		return slog.LevelInfo, false
	}
}

// NewHandler builds the base handler for the given format and wraps it with
// context enrichment
func NewHandler(w io.Writer, format Format, level slog.Level) slog.Handler {
	var base slog.Handler
	switch format {
	case FormatText:
		base = tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.DateTime,
			ReplaceAttr: replaceLevel,
		})
	default:
		base = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevel,
		})
	}
	return &contextHandler{Handler: base}
}

// replaceLevel renders LevelCritical as CRITICAL instead of ERROR+4
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

// contextHandler injects the correlation id and OpenTelemetry trace_id and
// span_id into every record
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationID(ctx); id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
