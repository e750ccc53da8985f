// File: internal/concurrency/serial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SerialQueue runs the tasks of one owner strictly one after another on a
// shared pool, whichever worker picks the drain up.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// DefaultSerialBatch is the number of tasks a drain runs before yielding
// its worker back to the pool.
const DefaultSerialBatch = 16

// SerialQueue serializes tasks submitted through it. At most one drain of a
// given queue is scheduled or running at any time.
type SerialQueue struct {
	mu      sync.Mutex
	pending *queue.Queue
	running bool
	submit  func(task func()) error
	batch   int

	// OnPanic observes a recovered task panic. Set before first Push.
	OnPanic func(r any)
	// OnIdle runs after a drain found the queue empty and stopped. Set
	// before first Push.
	OnIdle func()
}

// NewSerialQueue builds a queue whose drains are handed to submit.
func NewSerialQueue(submit func(task func()) error) *SerialQueue {
	return &SerialQueue{
		pending: queue.New(),
		submit:  submit,
		batch:   DefaultSerialBatch,
	}
}

// Push appends task. If no drain is active one is submitted. When the
// submission fails every pending task is discarded and the error returned.
func (q *SerialQueue) Push(task func()) error {
	q.mu.Lock()
	q.pending.Add(task)
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	if err := q.submit(q.drain); err != nil {
		q.mu.Lock()
		q.running = false
		q.pending = queue.New()
		q.mu.Unlock()
		return err
	}
	return nil
}

// Len returns the number of tasks waiting to run.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// Active reports whether a drain is scheduled or running.
func (q *SerialQueue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *SerialQueue) drain() {
	for {
		for i := 0; i < q.batch; i++ {
			q.mu.Lock()
			if q.pending.Length() == 0 {
				q.running = false
				q.mu.Unlock()
				if q.OnIdle != nil {
					q.OnIdle()
				}
				return
			}
			task := q.pending.Remove().(func())
			q.mu.Unlock()
			q.run(task)
		}
		// yield; keep draining here if the pool refuses the continuation
		if q.submit(q.drain) == nil {
			return
		}
	}
}

func (q *SerialQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil && q.OnPanic != nil {
			q.OnPanic(r)
		}
	}()
	task()
}
