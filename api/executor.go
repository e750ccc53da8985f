// Package api
// Author: momentics
//
// Executor contract for bounded task dispatch.

package api

// Executor abstracts a bounded pool of worker goroutines.
type Executor interface {
	// Submit schedules task for execution. It never blocks; a full queue
	// is reported as an error.
	Submit(task func()) error

	// NumWorkers returns current number of active worker routines.
	NumWorkers() int

	// Close stops the workers; queued tasks are dropped.
	Close()
}
