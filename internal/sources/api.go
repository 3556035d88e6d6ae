package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/httpclient"
	"github.com/stacklok/recordsync/internal/otel"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// apiSource fetches change-sets from an HTTP endpoint
type apiSource struct {
	endpoint *url.URL
	layout   config.RecordLayout
	client   httpclient.Client
	tracer   trace.Tracer
}

// NewAPISource creates a source for cfg. client is expected to already retry
// transient failures.
func NewAPISource(cfg *config.APIConfig, client httpclient.Client, tracer trace.Tracer) (pkgsync.Source, error) {
	if cfg == nil {
		return nil, syncerr.Configuration("api source", fmt.Errorf("api configuration is required"))
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Host == "" {
		return nil, syncerr.Configuration("api source", fmt.Errorf("invalid endpoint %q", cfg.Endpoint))
	}
	return &apiSource{
		endpoint: endpoint,
		layout:   cfg.RecordLayout,
		client:   client,
		tracer:   tracer,
	}, nil
}

// FetchChanges implements sync.Source
func (s *apiSource) FetchChanges(ctx context.Context, query pkgsync.Query) (records []pkgsync.Record, retErr error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "sources.FetchChanges",
		trace.WithAttributes(otel.AttrSourceType.String(config.SourceTypeAPI)))
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	target := s.requestURL(query)
	slog.DebugContext(ctx, "Fetching change-set", "url", target)

	data, err := s.client.Get(ctx, target)
	if err != nil {
		return nil, syncerr.New(syncerr.KindOf(err), "fetch changes", err)
	}

	records, err = DecodeRecords(data, s.layout)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(records)))
	slog.DebugContext(ctx, "Fetched change-set", "records", len(records))
	return records, nil
}

// requestURL adds the query window to the endpoint, keeping any query
// parameters already configured
func (s *apiSource) requestURL(query pkgsync.Query) string {
	u := *s.endpoint
	params := u.Query()
	params.Set("since", query.Since)
	if query.Until != "" {
		params.Set("until", query.Until)
	}
	u.RawQuery = params.Encode()
	return u.String()
}
