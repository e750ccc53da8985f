// Package api
// Author: momentics
//
// Scheduler contract for delayed and periodic job execution.

package api

import "time"

// Scheduler runs timed jobs on a worker pool separate from I/O polling.
type Scheduler interface {
	// Schedule runs fn once after delay.
	Schedule(fn func(), delay time.Duration) (Cancelable, error)

	// SchedulePeriodic runs fn every period until cancelled. A panicking
	// run does not stop later runs.
	SchedulePeriodic(fn func(), period time.Duration) (Cancelable, error)

	// Delivery runs fn on the delivery pool, used for owner callbacks.
	Delivery(fn func()) error

	// Close stops the timer and both pools. Pending jobs are dropped.
	Close() error
}
