package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/stacklok/recordsync/internal/logging"
	"github.com/stacklok/recordsync/internal/retry"
	"github.com/stacklok/recordsync/internal/status"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// DefaultPauseCheckInterval is how often a paused runner re-reads its options
const DefaultPauseCheckInterval = 30 * time.Second

var errNoResult = errors.New("cycle returned no result")

// CycleFunc runs one sync cycle
type CycleFunc func(ctx context.Context) (*pkgsync.BatchResult, error)

// CycleReport describes one completed cycle
type CycleReport struct {
	// Status is the runner's status right after the cycle was accounted for
	Status        status.SyncStatus
	CorrelationID string
	Success       bool
	Err           error
	Duration      time.Duration
	Attempts      int
}

// Observer is notified of runner state changes and completed cycles.
// Calls are made from the runner's goroutine.
type Observer interface {
	StateChanged(ctx context.Context, from status.RunnerState, current status.SyncStatus)
	CycleCompleted(ctx context.Context, report CycleReport)
}

// Runner drives the periodic execution of one job's cycle. A Runner is single
// use: once Run returns it stays Stopped or Failed.
type Runner struct {
	job        string
	cycle      CycleFunc
	options    OptionsFunc
	policy     retry.Policy
	cycleRetry retry.Schedule
	clock      clock.Clock
	observer   Observer
	pauseCheck time.Duration

	mu         sync.RWMutex
	state      status.RunnerState
	failures   int
	health     status.HealthMetrics
	lastResult *pkgsync.BatchResult
	lastErr    error
	nextRun    time.Time
	started    bool
	done       chan struct{}
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithPolicy overrides the backoff between failed cycles
func WithPolicy(p retry.Policy) RunnerOption {
	return func(r *Runner) {
		r.policy = p
	}
}

// WithCycleRetry overrides the inner retry of transient cycle failures
func WithCycleRetry(s retry.Schedule) RunnerOption {
	return func(r *Runner) {
		r.cycleRetry = s
	}
}

// WithClock overrides the clock used for scheduling
func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithObserver registers an observer
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithPauseCheckInterval overrides how often a paused runner re-reads its options
func WithPauseCheckInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.pauseCheck = d
	}
}

// NewRunner creates a runner in the Starting state
func NewRunner(job string, cycle CycleFunc, options OptionsFunc, opts ...RunnerOption) *Runner {
	r := &Runner{
		job:        job,
		cycle:      cycle,
		options:    options,
		policy:     retry.NewExponentialPolicy(),
		cycleRetry: retry.CycleSchedule,
		clock:      clock.RealClock{},
		pauseCheck: DefaultPauseCheckInterval,
		state:      status.StateStarting,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cycles until ctx is cancelled or the failure threshold is
// reached. It never returns an error; the outcome is the final state.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		slog.WarnContext(ctx, "Runner already started", "job", r.job)
		return
	}
	r.started = true
	r.health = status.HealthMetrics{ServiceStartTime: r.clock.Now()}
	r.mu.Unlock()

	defer close(r.done)
	defer r.finish(context.WithoutCancel(ctx))

	initialDelay := r.options().InitialDelay
	slog.InfoContext(ctx, "Runner starting", "job", r.job, "initial_delay", initialDelay)
	if !r.sleep(ctx, initialDelay) {
		return
	}
	r.setState(ctx, status.StateRunning)

	for ctx.Err() == nil {
		opts := r.options()
		if !opts.IsEnabled {
			r.setState(ctx, status.StatePaused)
			if !r.sleep(ctx, r.pauseCheck) {
				return
			}
			continue
		}
		r.setState(ctx, status.StateRunning)

		delay, ok := r.runCycle(ctx, opts)
		if !ok {
			return
		}
		if !r.sleep(ctx, delay) {
			return
		}
	}
}

// runCycle runs one cycle with inner retries and accounts for its outcome.
// It returns the delay before the next cycle and false when the loop must exit.
func (r *Runner) runCycle(ctx context.Context, opts Options) (time.Duration, bool) {
	correlationID := logging.NewCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)
	start := r.clock.Now()

	slog.InfoContext(ctx, "Starting sync cycle", "job", r.job)

	attempts := 0
	result, err := retry.Do(ctx, r.cycleRetry, isRetryable,
		func(ctx context.Context) (*pkgsync.BatchResult, error) {
			attempts++
			return r.cycle(ctx)
		},
		func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Transient cycle failure, retrying",
				"job", r.job, "attempt", attempts, "retry_in", next, "error", err)
		},
	)

	if ctx.Err() != nil {
		slog.InfoContext(ctx, "Sync cycle interrupted", "job", r.job, "attempts", attempts)
		return 0, false
	}

	finished := r.clock.Now()
	duration := finished.Sub(start)
	cycleErr := outcome(result, err)
	success := cycleErr == nil
	threshold := opts.failureThreshold()

	r.mu.Lock()
	r.health.RecordCycle(success, finished, duration)
	r.lastResult = result.Clone()
	if success {
		r.failures = 0
		r.lastErr = nil
	} else {
		r.failures++
		r.lastErr = cycleErr
	}
	failures := r.failures
	exhausted := !success && failures >= threshold

	var delay time.Duration
	switch {
	case exhausted:
		r.nextRun = time.Time{}
	case success:
		delay = NextDelay(finished, opts)
		r.nextRun = finished.Add(delay)
	default:
		delay = r.policy.Delay(failures)
		r.nextRun = finished.Add(delay)
	}
	snapshot := r.snapshotLocked(finished)
	r.mu.Unlock()

	switch {
	case success:
		slog.InfoContext(ctx, "Sync cycle completed",
			"job", r.job,
			"duration", duration,
			"total", result.TotalRecords,
			"created", result.CreatedCount,
			"updated", result.UpdatedCount,
			"skipped", result.SkippedCount,
			"failed", result.FailedCount,
			"next_run", snapshot.NextRun)
	case exhausted:
		slog.Log(ctx, logging.LevelCritical, "Sync job failed permanently, runner stopping",
			"job", r.job,
			"consecutive_failures", failures,
			"max_consecutive_failures", threshold,
			"error", cycleErr)
	default:
		slog.WarnContext(ctx, "Sync cycle failed",
			"job", r.job,
			"consecutive_failures", failures,
			"max_consecutive_failures", threshold,
			"retry_in", delay,
			"error_kind", syncerr.KindOf(cycleErr).String(),
			"error", cycleErr)
	}

	if r.observer != nil {
		r.observer.CycleCompleted(ctx, CycleReport{
			Status:        snapshot,
			CorrelationID: correlationID,
			Success:       success,
			Err:           cycleErr,
			Duration:      duration,
			Attempts:      attempts,
		})
	}

	if exhausted {
		r.setState(ctx, status.StateFailed)
		return 0, false
	}
	return delay, true
}

// outcome folds a cycle's return values into a single error
func outcome(result *pkgsync.BatchResult, err error) error {
	switch {
	case err != nil:
		return err
	case result == nil:
		return errNoResult
	case !result.Success:
		msg := result.Message
		if msg == "" {
			msg = "cycle reported failure"
		}
		return syncerr.Validation("cycle", errors.New(msg))
	default:
		return nil
	}
}

func isRetryable(err error) bool {
	return syncerr.Is(err, syncerr.KindTransient)
}

// sleep waits for d on the runner's clock. It returns false if ctx ended first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := r.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (r *Runner) finish(ctx context.Context) {
	r.mu.Lock()
	stopped := r.clock.Now()
	r.health.ServiceStopTime = &stopped
	r.nextRun = time.Time{}
	failed := r.state == status.StateFailed
	r.mu.Unlock()

	if !failed {
		r.setState(ctx, status.StateStopped)
	}
	slog.InfoContext(ctx, "Runner exited", "job", r.job, "state", r.State())
}

func (r *Runner) setState(ctx context.Context, to status.RunnerState) {
	r.mu.Lock()
	from := r.state
	if from == to {
		r.mu.Unlock()
		return
	}
	r.state = to
	snapshot := r.snapshotLocked(r.clock.Now())
	r.mu.Unlock()

	slog.InfoContext(ctx, "Runner state changed", "job", r.job, "from", from, "to", to)
	if r.observer != nil {
		r.observer.StateChanged(ctx, from, snapshot)
	}
}

func (r *Runner) snapshotLocked(now time.Time) status.SyncStatus {
	s := status.SyncStatus{
		Job:                 r.job,
		State:               r.state,
		ConsecutiveFailures: r.failures,
		Health:              r.health.Clone(),
		LastResult:          r.lastResult.Clone(),
		UpdatedAt:           now,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	if !r.nextRun.IsZero() {
		next := r.nextRun
		s.NextRun = &next
	}
	return s
}

// Job returns the job name
func (r *Runner) Job() string {
	return r.job
}

// State returns the current state
func (r *Runner) State() status.RunnerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ConsecutiveFailures returns the current failure streak
func (r *Runner) ConsecutiveFailures() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failures
}

// Health returns a snapshot of the health metrics
func (r *Runner) Health() status.HealthMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health.Clone()
}

// Status returns a snapshot of the runner's status
func (r *Runner) Status() status.SyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(r.clock.Now())
}

// Done is closed once Run has returned
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
