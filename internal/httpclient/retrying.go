package httpclient

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/recordsync/internal/otel"
	"github.com/stacklok/recordsync/internal/retry"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// RetryingClient retries a Client on transport failures and 5xx responses.
// 4xx responses and cancellation are returned immediately. It keeps no state
// between calls.
type RetryingClient struct {
	next     Client
	schedule retry.Schedule
	tracer   trace.Tracer
}

// RetryingOption configures a RetryingClient
type RetryingOption func(*RetryingClient)

// WithSchedule overrides retry.CallSchedule
func WithSchedule(s retry.Schedule) RetryingOption {
	return func(c *RetryingClient) {
		c.schedule = s
	}
}

// WithTracer records a span per call
func WithTracer(tracer trace.Tracer) RetryingOption {
	return func(c *RetryingClient) {
		c.tracer = tracer
	}
}

// NewRetryingClient wraps next
func NewRetryingClient(next Client, opts ...RetryingOption) *RetryingClient {
	c := &RetryingClient{
		next:     next,
		schedule: retry.CallSchedule,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get implements Client
func (c *RetryingClient) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "httpclient.Get")
	defer span.End()

	attempt := 0
	data, err := retry.Do(ctx, c.schedule, Retryable,
		func(ctx context.Context) ([]byte, error) {
			attempt++
			return c.next.Get(ctx, url)
		},
		func(err error, next time.Duration) {
			slog.WarnContext(ctx, "HTTP request failed, retrying",
				"url", url, "attempt", attempt, "retry_in", next, "error", err)
		},
	)
	span.SetAttributes(otel.AttrHTTPAttempt.Int(attempt))
	otel.RecordError(span, err)
	return data, err
}

// Retryable reports whether a failed request is worth repeating
func Retryable(err error) bool {
	return syncerr.IsTransient(err)
}
