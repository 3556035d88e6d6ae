package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/logging"
	"github.com/stacklok/recordsync/internal/status"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks github.com/stacklok/recordsync/internal/sync/coordinator Coordinator

const (
	triggerScheduled = "scheduled"
	triggerManual    = "manual"
)

var (
	// ErrJobNotFound is returned for a job that is not configured
	ErrJobNotFound = errors.New("sync job not found")

	// ErrRunnerActive is returned when resetting a runner that is neither Failed nor Stopped
	ErrRunnerActive = errors.New("runner is still active")

	// ErrNotRunning is returned when the coordinator has not been started or is shutting down
	ErrNotRunning = errors.New("coordinator is not running")

	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// Coordinator manages one runner per sync job
type Coordinator interface {
	// Start runs every job's runner. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and waits for all runners to exit
	Stop() error

	// Trigger runs one cycle of a job immediately. Manual and scheduled
	// cycles of the same job never overlap.
	Trigger(ctx context.Context, job string, query pkgsync.Query) (*pkgsync.BatchResult, error)

	// Reset replaces a Failed or Stopped runner with a fresh one
	Reset(ctx context.Context, job string) error

	// Status returns the status of one job
	Status(job string) (*status.SyncStatus, error)

	// Statuses returns the status of every job in configuration order
	Statuses() []*status.SyncStatus
}

// jobHandle holds what the coordinator keeps per job
type jobHandle struct {
	name    string
	manager pkgsync.Manager

	// sem serialises cycles of this job
	sem chan struct{}

	mu     sync.RWMutex
	runner *Runner
}

func (j *jobHandle) lock(ctx context.Context) error {
	select {
	case j.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (j *jobHandle) unlock() {
	<-j.sem
}

func (j *jobHandle) currentRunner() *Runner {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.runner
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	configs     config.ConfigManager
	jobs        map[string]*jobHandle
	order       []string
	persistence status.StatusPersistence
	syncMetrics *telemetry.SyncMetrics
	clock       clock.Clock
	runnerOpts  []RunnerOption

	mu         sync.Mutex
	started    bool
	stopping   bool
	runCtx     context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithStatusPersistence persists every job status change
func WithStatusPersistence(p status.StatusPersistence) Option {
	return func(c *defaultCoordinator) {
		c.persistence = p
	}
}

// WithCoordinatorClock sets the clock handed to every runner
func WithCoordinatorClock(clk clock.Clock) Option {
	return func(c *defaultCoordinator) {
		c.clock = clk
	}
}

// WithRunnerOptions adds options applied to every runner
func WithRunnerOptions(opts ...RunnerOption) Option {
	return func(c *defaultCoordinator) {
		c.runnerOpts = append(c.runnerOpts, opts...)
	}
}

// New creates a coordinator for every job of the current configuration.
// managers must hold a Manager for each configured job.
func New(configs config.ConfigManager, managers map[string]pkgsync.Manager, opts ...Option) (Coordinator, error) {
	c := &defaultCoordinator{
		configs: configs,
		jobs:    make(map[string]*jobHandle),
		clock:   clock.RealClock{},
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	for _, job := range configs.GetConfig().Jobs {
		manager, ok := managers[job.Name]
		if !ok {
			return nil, fmt.Errorf("no sync manager for job '%s'", job.Name)
		}
		c.jobs[job.Name] = &jobHandle{
			name:    job.Name,
			manager: manager,
			sem:     make(chan struct{}, 1),
		}
		c.order = append(c.order, job.Name)
	}

	for _, name := range c.order {
		c.jobs[name].runner = c.newRunner(c.jobs[name])
	}

	return c, nil
}

// Start runs every job's runner until ctx is cancelled
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.runCtx = runCtx
	c.cancelFunc = cancel
	c.mu.Unlock()

	defer func() {
		close(c.done)
		slog.Info("Sync coordinator stopped")
	}()

	slog.Info("Starting sync coordinator", "job_count", len(c.order))
	c.logPreviousStatus(ctx)

	c.mu.Lock()
	for _, name := range c.order {
		c.launch(runCtx, c.jobs[name].currentRunner())
	}
	c.mu.Unlock()

	<-runCtx.Done()

	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator")
		cancel()
		<-c.done
	}
	return nil
}

// Trigger runs one manual cycle of a job through the same Manager as scheduled cycles
func (c *defaultCoordinator) Trigger(ctx context.Context, name string, query pkgsync.Query) (*pkgsync.BatchResult, error) {
	j, ok := c.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if err := j.lock(ctx); err != nil {
		return nil, err
	}
	defer j.unlock()

	// an API request arrives with its own correlation id
	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	}
	slog.InfoContext(ctx, "Manual sync triggered", "job", name, "since", query.Since, "until", query.Until)

	start := c.clock.Now()
	result, err := j.manager.RunCycle(ctx, query)
	c.recordCycleMetrics(ctx, name, triggerManual, c.clock.Since(start), result, err)

	if err != nil {
		slog.ErrorContext(ctx, "Manual sync failed", "job", name, "error", err)
	}
	return result, err
}

// Reset replaces a terminal runner with a fresh one that starts from Starting
func (c *defaultCoordinator) Reset(ctx context.Context, name string) error {
	j, ok := c.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopping || c.runCtx.Err() != nil {
		return ErrNotRunning
	}

	old := j.currentRunner()
	if !old.State().IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunnerActive, name, old.State())
	}

	select {
	case <-old.Done():
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	fresh := c.newRunner(j)
	j.mu.Lock()
	j.runner = fresh
	j.mu.Unlock()

	slog.InfoContext(ctx, "Runner reset", "job", name, "previous_state", old.State())
	c.launch(c.runCtx, fresh)
	return nil
}

// Status returns the status of one job
func (c *defaultCoordinator) Status(name string) (*status.SyncStatus, error) {
	j, ok := c.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s := j.currentRunner().Status()
	return &s, nil
}

// Statuses returns the status of every job in configuration order
func (c *defaultCoordinator) Statuses() []*status.SyncStatus {
	out := make([]*status.SyncStatus, 0, len(c.order))
	for _, name := range c.order {
		s := c.jobs[name].currentRunner().Status()
		out = append(out, &s)
	}
	return out
}

// launch must be called with c.mu held
func (c *defaultCoordinator) launch(ctx context.Context, r *Runner) {
	c.wg.Go(func() {
		r.Run(ctx)
	})
}

func (c *defaultCoordinator) newRunner(j *jobHandle) *Runner {
	opts := append([]RunnerOption{WithClock(c.clock), WithObserver(c)}, c.runnerOpts...)
	return NewRunner(j.name, c.cycleFor(j), c.optionsFor(j.name), opts...)
}

// cycleFor builds the scheduled cycle of a job
func (c *defaultCoordinator) cycleFor(j *jobHandle) CycleFunc {
	options := c.optionsFor(j.name)
	return func(ctx context.Context) (*pkgsync.BatchResult, error) {
		if err := j.lock(ctx); err != nil {
			return nil, err
		}
		defer j.unlock()

		query := pkgsync.QuerySince(c.clock.Now(), options().LookbackDays)
		return j.manager.RunCycle(ctx, query)
	}
}

// optionsFor reads a job's options from the current configuration. A job
// removed from the configuration is paused.
func (c *defaultCoordinator) optionsFor(name string) OptionsFunc {
	return func() Options {
		job, ok := c.configs.GetConfig().Job(name)
		if !ok {
			return Options{IsEnabled: false}
		}
		return OptionsFromJob(job)
	}
}

// StateChanged implements Observer
func (c *defaultCoordinator) StateChanged(ctx context.Context, _ status.RunnerState, current status.SyncStatus) {
	c.syncMetrics.RecordRunnerState(ctx, current.Job, string(current.State))
	c.persist(ctx, &current)
}

// CycleCompleted implements Observer
func (c *defaultCoordinator) CycleCompleted(ctx context.Context, report CycleReport) {
	job := report.Status.Job
	c.recordCycleMetrics(ctx, job, triggerScheduled, report.Duration, report.Status.LastResult, report.Err)
	c.syncMetrics.RecordConsecutiveFailures(ctx, job, report.Status.ConsecutiveFailures)
	c.persist(ctx, &report.Status)
}

func (c *defaultCoordinator) recordCycleMetrics(
	ctx context.Context, job, trigger string, d time.Duration, result *pkgsync.BatchResult, err error,
) {
	success := err == nil && result != nil && result.Success
	c.syncMetrics.RecordCycle(ctx, job, trigger, d, success)
	if result != nil {
		c.syncMetrics.RecordRecords(ctx, job, telemetry.RecordCounts{
			Created: result.CreatedCount,
			Updated: result.UpdatedCount,
			Skipped: result.SkippedCount,
			Failed:  result.FailedCount,
		})
	}
}

func (c *defaultCoordinator) persist(ctx context.Context, s *status.SyncStatus) {
	if c.persistence == nil {
		return
	}
	if err := c.persistence.SaveStatus(context.WithoutCancel(ctx), s.Job, s); err != nil {
		slog.WarnContext(ctx, "Failed to persist sync status", "job", s.Job, "error", err)
	}
}

// logPreviousStatus reports what the last process left behind. Failure
// counters are not carried over: a restart acts as an operator reset.
func (c *defaultCoordinator) logPreviousStatus(ctx context.Context) {
	if c.persistence == nil {
		return
	}
	previous, err := c.persistence.LoadAllStatus(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load previous sync status", "error", err)
		return
	}
	for _, name := range c.order {
		if s, ok := previous[name]; ok && s.State != "" {
			slog.InfoContext(ctx, "Previous sync status",
				"job", name,
				"state", s.State,
				"consecutive_failures", s.ConsecutiveFailures,
				"last_error", s.LastError)
		}
	}
}
