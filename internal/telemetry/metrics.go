package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/recordsync/sync"
)

// Record outcomes used as the "outcome" attribute of the records counter
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// runnerStates maps runner state names to gauge values
var runnerStates = map[string]int64{
	"Starting": 0,
	"Running":  1,
	"Paused":   2,
	"Stopped":  3,
	"Failed":   4,
}

// RecordCounts is the per-outcome record tally of one cycle
type RecordCounts struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// SyncMetrics holds the OpenTelemetry instruments for sync jobs
type SyncMetrics struct {
	cycleDuration       metric.Float64Histogram
	records             metric.Int64Counter
	consecutiveFailures metric.Int64Gauge
	runnerState         metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	cycleDuration, err := meter.Float64Histogram(
		"recordsync_cycle_duration_seconds",
		metric.WithDescription("Duration of sync cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"recordsync_records_total",
		metric.WithDescription("Records reconciled, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	consecutiveFailures, err := meter.Int64Gauge(
		"recordsync_consecutive_failures",
		metric.WithDescription("Consecutive failed cycles of each job"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	runnerState, err := meter.Int64Gauge(
		"recordsync_runner_state",
		metric.WithDescription("Runner state of each job (0=Starting 1=Running 2=Paused 3=Stopped 4=Failed)"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cycleDuration:       cycleDuration,
		records:             records,
		consecutiveFailures: consecutiveFailures,
		runnerState:         runnerState,
	}, nil
}

// RecordCycle records the duration and outcome of one cycle
func (m *SyncMetrics) RecordCycle(ctx context.Context, job, trigger string, duration time.Duration, success bool) {
	if m == nil || m.cycleDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("job", job),
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	}

	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRecords adds the per-outcome record counts of one cycle
func (m *SyncMetrics) RecordRecords(ctx context.Context, job string, counts RecordCounts) {
	if m == nil || m.records == nil {
		return
	}

	for outcome, n := range map[string]int{
		OutcomeCreated: counts.Created,
		OutcomeUpdated: counts.Updated,
		OutcomeSkipped: counts.Skipped,
		OutcomeFailed:  counts.Failed,
	} {
		if n == 0 {
			continue
		}
		m.records.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("job", job),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordConsecutiveFailures records the current failure streak of a job
func (m *SyncMetrics) RecordConsecutiveFailures(ctx context.Context, job string, failures int) {
	if m == nil || m.consecutiveFailures == nil {
		return
	}

	m.consecutiveFailures.Record(ctx, int64(failures), metric.WithAttributes(attribute.String("job", job)))
}

// RecordRunnerState records the current runner state of a job. Unknown states are ignored.
func (m *SyncMetrics) RecordRunnerState(ctx context.Context, job, state string) {
	if m == nil || m.runnerState == nil {
		return
	}

	value, ok := runnerStates[state]
	if !ok {
		return
	}
	m.runnerState.Record(ctx, value, metric.WithAttributes(attribute.String("job", job)))
}
