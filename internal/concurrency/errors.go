// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrExecutorFull indicates the task queue reached its capacity
	ErrExecutorFull = errors.New("executor queue is full")

	// ErrInvalidPeriod indicates a non-positive period for a periodic job
	ErrInvalidPeriod = errors.New("invalid period")
)
