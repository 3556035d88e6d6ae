package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/otel"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// fileSource reads change-sets from a local JSON file
type fileSource struct {
	path   string
	layout config.RecordLayout
	tracer trace.Tracer
}

// NewFileSource creates a source for cfg
func NewFileSource(cfg *config.FileConfig, tracer trace.Tracer) (pkgsync.Source, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, syncerr.Configuration("file source", fmt.Errorf("file path cannot be empty"))
	}
	return &fileSource{path: cfg.Path, layout: cfg.RecordLayout, tracer: tracer}, nil
}

// FetchChanges implements sync.Source. The query window is not applied.
func (s *fileSource) FetchChanges(ctx context.Context, _ pkgsync.Query) (records []pkgsync.Record, retErr error) {
	_, span := otel.StartSpan(ctx, s.tracer, "sources.FetchChanges",
		trace.WithAttributes(otel.AttrSourceType.String(config.SourceTypeFile)))
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	//nolint:gosec // File path comes from user configuration, this is expected behavior
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, syncerr.System("read change-set", fmt.Errorf("file not found: %s", s.path))
		}
		return nil, syncerr.System("read change-set", fmt.Errorf("failed to read file %s: %w", s.path, err))
	}

	records, err = DecodeRecords(data, s.layout)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(records)))
	slog.DebugContext(ctx, "Read change-set file", "path", s.path, "records", len(records))
	return records, nil
}
