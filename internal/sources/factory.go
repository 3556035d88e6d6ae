package sources

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/httpclient"
	"github.com/stacklok/recordsync/internal/retry"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// defaultSourceFactory is the default implementation of SourceFactory
type defaultSourceFactory struct {
	tracer       trace.Tracer
	callSchedule retry.Schedule
}

var _ SourceFactory = (*defaultSourceFactory)(nil)

// FactoryOption configures the source factory
type FactoryOption func(*defaultSourceFactory)

// WithTracer traces fetches and outbound calls
func WithTracer(tracer trace.Tracer) FactoryOption {
	return func(f *defaultSourceFactory) {
		f.tracer = tracer
	}
}

// WithCallSchedule overrides the retry schedule of outbound calls
func WithCallSchedule(s retry.Schedule) FactoryOption {
	return func(f *defaultSourceFactory) {
		f.callSchedule = s
	}
}

// NewSourceFactory creates a new source factory
func NewSourceFactory(opts ...FactoryOption) SourceFactory {
	f := &defaultSourceFactory{callSchedule: retry.CallSchedule}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateSource creates the source configured for job
func (f *defaultSourceFactory) CreateSource(job *config.JobConfig) (pkgsync.Source, error) {
	switch job.GetType() {
	case config.SourceTypeAPI:
		client := httpclient.NewRetryingClient(
			httpclient.NewDefaultClient(job.API.GetTimeout(), httpclient.WithHeaders(job.API.Headers)),
			httpclient.WithSchedule(f.callSchedule),
			httpclient.WithTracer(f.tracer),
		)
		return NewAPISource(job.API, client, f.tracer)
	case config.SourceTypeFile:
		return NewFileSource(job.File, f.tracer)
	default:
		return nil, syncerr.Configuration("create source",
			fmt.Errorf("job '%s' has no supported source configured", job.Name))
	}
}
