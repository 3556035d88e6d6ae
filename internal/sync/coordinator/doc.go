// Package coordinator schedules and supervises sync cycles.
//
// Each configured job gets a Runner: a small state machine that executes the
// job's cycle on an interval or at a daily UTC time, counts consecutive
// failures and backs off between them.
//
// # Runner states
//
//	Starting --(initial delay)--> Running
//	Running  --(job disabled)---> Paused --(re-enabled)--> Running
//	Running  --(failures reach threshold)--> Failed
//	any      --(context cancelled)--> Stopped
//
// Failed and Stopped are terminal for a runner instance; Coordinator.Reset
// replaces a terminal runner with a fresh one.
//
// # Retry layers
//
// Within a cycle, transient failures are retried a few times with short
// delays (retry.CycleSchedule). A cycle that still fails increments the
// failure counter and the runner sleeps for retry.Policy's delay before the
// next one. Validation failures inside a batch never reach the runner; they
// are reported in the BatchResult.
//
// # Options
//
// Runner options are read through an OptionsFunc at the top of every loop
// iteration, so configuration reloads take effect at the next cycle boundary.
//
// # Coordinator
//
// The Coordinator owns one runner goroutine per job, serialises manual
// triggers with scheduled cycles of the same job, and persists every status
// change through status.StatusPersistence.
package coordinator
