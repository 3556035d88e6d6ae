package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/recordsync/internal/logging"
	rsotel "github.com/stacklok/recordsync/internal/otel"
)

const (
	// HTTPInstrumentationName names the tracer and meter of the API middlewares
	HTTPInstrumentationName = "github.com/stacklok/recordsync/http"

	// CorrelationHeader carries the correlation id of an API request. It is
	// echoed on the response and becomes the correlation id of a manual cycle.
	CorrelationHeader = "X-Correlation-Id"

	unknownRoute        = "unknown_route"
	jobRouteParam       = "name"
	maxCorrelationIDLen = 128
)

// requestRoute returns the chi pattern r matched and, on /v1/jobs/{name}
// routes, the job name. Unknown jobs answer 404 and get no job so that
// label values stay bounded by the configured jobs.
func requestRoute(r *http.Request, status int) (route, job string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return unknownRoute, ""
	}
	if status != http.StatusNotFound {
		job = rctx.URLParam(jobRouteParam)
	}
	return rctx.RoutePattern(), job
}

// responseStatus treats a handler that never wrote a header as 200
func responseStatus(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// CorrelationMiddleware gives every API request a correlation id. A well-formed
// X-Correlation-Id from the caller is kept, anything else is replaced by a new id.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if !validCorrelationID(id) {
			id = logging.NewCorrelationID()
		}
		w.Header().Set(CorrelationHeader, id)
		trace.SpanFromContext(r.Context()).SetAttributes(rsotel.AttrCorrelationID.String(id))
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// TracingMiddleware opens a server span per API request, continuing the
// caller's W3C trace when one is propagated. The span is named after the
// matched route and tagged with the job of /v1/jobs/{name} routes.
// A nil provider yields a pass-through middleware.
func TracingMiddleware(provider trace.TracerProvider) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	tracer := provider.Tracer(HTTPInstrumentationName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := responseStatus(ww)
			route, job := requestRoute(r, status)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
			if job != "" {
				span.SetAttributes(rsotel.AttrSyncType.String(job))
			}

			// a rejected query or unknown job is the caller's fault, not a server error
			switch {
			case status >= http.StatusInternalServerError:
				span.SetStatus(codes.Error, http.StatusText(status))
			case status < http.StatusBadRequest:
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

type httpMetrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

func newHTTPMetrics(provider metric.MeterProvider) (*httpMetrics, error) {
	meter := provider.Meter(HTTPInstrumentationName)

	duration, err := meter.Float64Histogram(
		"recordsync_http_request_duration_seconds",
		metric.WithDescription("Duration of API requests in seconds, manual sync cycles included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter(
		"recordsync_http_requests_total",
		metric.WithDescription("Total number of API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"recordsync_http_active_requests",
		metric.WithDescription("Number of API requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &httpMetrics{duration: duration, requests: requests, inFlight: inFlight}, nil
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// r.Context() may be cancelled once ServeHTTP returns
		ctx := r.Context()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.inFlight.Add(ctx, 1)
		next.ServeHTTP(ww, r)
		m.inFlight.Add(ctx, -1)

		status := responseStatus(ww)
		route, job := requestRoute(r, status)
		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.String("job", job),
			attribute.String("status_code", strconv.Itoa(status)),
		)
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.requests.Add(ctx, 1, attrs)
	})
}

// MetricsMiddleware counts and times API requests by route, job and status.
// A nil provider yields a pass-through middleware.
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	if provider == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	m, err := newHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}
	return m.middleware, nil
}
