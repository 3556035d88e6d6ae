package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Empty(t, CorrelationID(context.Background()))

	id := NewCorrelationID()
	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, CorrelationID(ctx))
	assert.NotEqual(t, id, NewCorrelationID())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   slog.Level
		wantOK bool
	}{
		{in: "", want: slog.LevelInfo, wantOK: true},
		{in: "DEBUG", want: slog.LevelDebug, wantOK: true},
		{in: "warning", want: slog.LevelWarn, wantOK: true},
		{in: "error", want: slog.LevelError, wantOK: true},
		{in: "critical", want: LevelCritical, wantOK: true},
		{in: "loud", want: slog.LevelInfo, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestJSONHandlerEnrichesRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, FormatJSON, slog.LevelDebug))

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithCorrelationID(ctx, "cycle-1")

	logger.Log(ctx, LevelCritical, "runner failed", "job", "orders")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "CRITICAL", entry["level"])
	assert.Equal(t, "cycle-1", entry["correlation_id"])
	assert.Equal(t, "orders", entry["job"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, FormatText, slog.LevelWarn))
	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.With("job", "orders").Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
