// File: internal/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across a fixed set of worker goroutines fed from
// one bounded FIFO queue.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/momentics/hiolink/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc = func()

var _ api.Executor = (*Executor)(nil)

// DefaultQueueSize bounds the pending task queue when no size is given.
const DefaultQueueSize = 4096

// Executor manages a pool of worker goroutines.
type Executor struct {
	name     string
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *queue.Queue
	capacity int
	closed   bool
	wg       sync.WaitGroup
	workers  int
	log      logrus.FieldLogger

	// OnPanic, when set, observes recovered task panics. Set before the
	// first Submit.
	OnPanic func(r any)

	// statistics
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

// NewExecutor starts numWorkers goroutines serving a queue of at most
// capacity tasks. numWorkers <= 0 defaults to runtime.NumCPU(), capacity <= 0
// to DefaultQueueSize.
func NewExecutor(name string, numWorkers, capacity int, log logrus.FieldLogger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Executor{
		name:     name,
		tasks:    queue.New(),
		capacity: capacity,
		workers:  numWorkers,
		log:      log.WithField("component", "executor").WithField("pool", name),
	}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.worker(i)
	}
	return e
}

// Submit enqueues a task for execution. It never blocks.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("executor %s: nil task", e.name)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	if e.tasks.Length() >= e.capacity {
		e.mu.Unlock()
		return ErrExecutorFull
	}
	e.tasks.Add(task)
	e.mu.Unlock()
	e.submitted.Inc()
	e.cond.Signal()
	return nil
}

// NumWorkers returns the number of worker goroutines.
func (e *Executor) NumWorkers() int {
	return e.workers
}

// Pending returns the number of queued, not yet started tasks.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks.Length()
}

// Close stops accepting tasks, drops queued ones and waits for running
// tasks to return. It must not be called from inside a task.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	dropped := e.tasks.Length()
	e.tasks = queue.New()
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
	if dropped > 0 {
		e.log.WithField("dropped", dropped).Debug("executor closed with pending tasks")
	}
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"submitted_tasks": e.submitted.Load(),
		"completed_tasks": e.completed.Load(),
		"panicked_tasks":  e.panicked.Load(),
		"pending_tasks":   int64(e.Pending()),
		"num_workers":     int64(e.workers),
	}
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.tasks.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		task := e.tasks.Remove().(func())
		e.mu.Unlock()
		e.execute(id, task)
	}
}

// execute runs the task and updates statistics, recovering from panics.
func (e *Executor) execute(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.panicked.Inc()
			e.log.WithField("worker", id).Errorf("task panic: %v", r)
			if e.OnPanic != nil {
				e.OnPanic(r)
			}
		}
		e.completed.Inc()
	}()
	task()
}
