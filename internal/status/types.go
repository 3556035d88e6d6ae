package status

import (
	"time"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
)

// RunnerState is the lifecycle state of a job's runner
type RunnerState string

const (
	// StateStarting is the entry state, held until the initial delay elapses
	StateStarting RunnerState = "Starting"

	// StateRunning means cycles are being scheduled
	StateRunning RunnerState = "Running"

	// StatePaused means the job is disabled and the runner is waiting to be re-enabled
	StatePaused RunnerState = "Paused"

	// StateStopped means the runner exited because it was cancelled
	StateStopped RunnerState = "Stopped"

	// StateFailed means the runner reached its consecutive failure threshold
	StateFailed RunnerState = "Failed"
)

// IsTerminal reports whether a runner in this state will never run another cycle
func (s RunnerState) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// HealthMetrics aggregates cycle outcomes over the lifetime of a runner
type HealthMetrics struct {
	ServiceStartTime  time.Time     `json:"serviceStartTime"`
	ServiceStopTime   *time.Time    `json:"serviceStopTime,omitempty"`
	TotalCycles       int64         `json:"totalCycles"`
	SuccessfulCycles  int64         `json:"successfulCycles"`
	FailedCycles      int64         `json:"failedCycles"`
	LastSuccessfulRun *time.Time    `json:"lastSuccessfulRun,omitempty"`
	LastRunDuration   time.Duration `json:"lastRunDuration,omitempty"`
}

// SuccessRate returns the fraction of successful cycles, or 0 when no cycle has run
func (h HealthMetrics) SuccessRate() float64 {
	if h.TotalCycles == 0 {
		return 0
	}
	return float64(h.SuccessfulCycles) / float64(h.TotalCycles)
}

// RecordCycle accounts for one completed cycle
func (h *HealthMetrics) RecordCycle(success bool, finishedAt time.Time, duration time.Duration) {
	h.TotalCycles++
	h.LastRunDuration = duration
	if success {
		h.SuccessfulCycles++
		t := finishedAt
		h.LastSuccessfulRun = &t
		return
	}
	h.FailedCycles++
}

// Clone returns a copy that shares no pointers with h
func (h HealthMetrics) Clone() HealthMetrics {
	c := h
	if h.ServiceStopTime != nil {
		t := *h.ServiceStopTime
		c.ServiceStopTime = &t
	}
	if h.LastSuccessfulRun != nil {
		t := *h.LastSuccessfulRun
		c.LastSuccessfulRun = &t
	}
	return c
}

// SyncStatus is the persisted and reported view of one job
type SyncStatus struct {
	// Job is the name of the sync job
	Job string `json:"job"`

	// State is the runner's lifecycle state
	State RunnerState `json:"state"`

	// ConsecutiveFailures counts failed cycles since the last success
	ConsecutiveFailures int `json:"consecutiveFailures"`

	// Health aggregates outcomes since the runner started
	Health HealthMetrics `json:"health"`

	// LastResult is the result of the most recent completed cycle
	LastResult *pkgsync.BatchResult `json:"lastResult,omitempty"`

	// LastError is the error of the most recent failed cycle
	LastError string `json:"lastError,omitempty"`

	// NextRun is when the runner will start its next cycle
	NextRun *time.Time `json:"nextRun,omitempty"`

	// UpdatedAt is when this status was produced
	UpdatedAt time.Time `json:"updatedAt"`
}
