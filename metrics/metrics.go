// Package metrics provides lightweight, lock-free engine counters using
// atomic operations so they impose minimal overhead on hot paths.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the watcher engine.
//
// All counters are accessed exclusively through atomic operations: there is
// no mutex contention however many watcher runs execute concurrently, and the
// struct may be passed as a pointer without additional synchronisation.
// Fields are uint64 and aligned to 64-bit boundaries to satisfy the
// requirements of sync/atomic on 32-bit platforms.
type Metrics struct {
	// Checks is the number of watcher runs completed since startup,
	// successful or not.
	Checks uint64

	// Changes is the number of runs classified new or modified.
	Changes uint64

	// Errors is the number of runs that ended in an error change log.
	Errors uint64

	// WorkflowRuns is the number of workflow executions started.
	WorkflowRuns uint64

	// startTime anchors the ChecksPerSecond rate.
	startTime time.Time
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncrementChecks atomically increments the completed-runs counter.
func (m *Metrics) IncrementChecks() {
	atomic.AddUint64(&m.Checks, 1)
}

// IncrementChanges atomically increments the detected-changes counter.
func (m *Metrics) IncrementChanges() {
	atomic.AddUint64(&m.Changes, 1)
}

// IncrementErrors atomically increments the failed-runs counter.
func (m *Metrics) IncrementErrors() {
	atomic.AddUint64(&m.Errors, 1)
}

// IncrementWorkflowRuns atomically increments the workflow-executions counter.
func (m *Metrics) IncrementWorkflowRuns() {
	atomic.AddUint64(&m.WorkflowRuns, 1)
}

// ChecksPerSecond returns the average check rate since the Metrics instance
// was created.  Returns 0 in the same wall-clock second as creation to avoid
// division by zero.
func (m *Metrics) ChecksPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.Checks)) / elapsed
}

// Snapshot returns a point-in-time copy of the counters.  The four separate
// atomic loads are not taken under one lock, so the snapshot may be very
// slightly inconsistent at nanosecond granularity, which is acceptable for
// monitoring purposes.
func (m *Metrics) Snapshot() (checks, changes, errors, workflowRuns uint64) {
	return atomic.LoadUint64(&m.Checks),
		atomic.LoadUint64(&m.Changes),
		atomic.LoadUint64(&m.Errors),
		atomic.LoadUint64(&m.WorkflowRuns)
}
