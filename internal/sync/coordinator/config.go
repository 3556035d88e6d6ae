package coordinator

import (
	"time"

	"github.com/stacklok/recordsync/internal/config"
)

// Options are the hot-reloadable settings of one runner. They are read once
// at the top of every loop iteration and never while a cycle runs.
type Options struct {
	IsEnabled              bool
	Interval               time.Duration
	InitialDelay           time.Duration
	DailyScheduleTime      *config.TimeOfDay
	MaxConsecutiveFailures int
	LookbackDays           int
}

// OptionsFunc returns the current options of a runner
type OptionsFunc func() Options

// OptionsFromJob converts a job configuration into runner options
func OptionsFromJob(job *config.JobConfig) Options {
	return Options{
		IsEnabled:              job.IsEnabled(),
		Interval:               job.GetInterval(),
		InitialDelay:           job.GetInitialDelay(),
		DailyScheduleTime:      job.DailyScheduleTime,
		MaxConsecutiveFailures: job.GetMaxConsecutiveFailures(),
		LookbackDays:           job.GetLookbackDays(),
	}
}

// failureThreshold returns the effective threshold; anything below one means
// the first failure is fatal
func (o Options) failureThreshold() int {
	return max(o.MaxConsecutiveFailures, 1)
}

// NextRun returns the first occurrence of tod that is strictly after now, in UTC
func NextRun(now time.Time, tod config.TimeOfDay) time.Time {
	next := tod.On(now)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextDelay returns how long to wait after a successful cycle that finished at now.
// A daily schedule takes precedence over the interval.
func NextDelay(now time.Time, o Options) time.Duration {
	if o.DailyScheduleTime != nil {
		return NextRun(now, *o.DailyScheduleTime).Sub(now)
	}
	if o.Interval <= 0 {
		return config.DefaultInterval
	}
	return o.Interval
}
