// File: reactor/stealing.go
// Author: momentics <momentics@gmail.com>
//
// Per-selector run queues with work stealing.

package reactor

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

var errStealerClosed = errors.New("reactor: run queues closed")

// runQueues owns one FIFO and one worker per selector. A worker runs its
// own queue first; when that is empty it moves half of the longest other
// queue into its own.
type runQueues struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queues  []*queue.Queue
	closed  bool
	wg      sync.WaitGroup
	log     logrus.FieldLogger
	onSteal func(n int)
}

func newRunQueues(n int, log logrus.FieldLogger, onSteal func(int)) *runQueues {
	rq := &runQueues{
		queues:  make([]*queue.Queue, n),
		log:     log,
		onSteal: onSteal,
	}
	rq.cond = sync.NewCond(&rq.mu)
	for i := range rq.queues {
		rq.queues[i] = queue.New()
	}
	rq.wg.Add(n)
	for i := 0; i < n; i++ {
		go rq.worker(i)
	}
	return rq
}

// push appends task to queue i and wakes a worker.
func (rq *runQueues) push(i int, task func()) error {
	rq.mu.Lock()
	if rq.closed {
		rq.mu.Unlock()
		return errStealerClosed
	}
	rq.queues[i].Add(task)
	rq.mu.Unlock()
	rq.cond.Signal()
	return nil
}

// lengths returns the current length of every queue.
func (rq *runQueues) lengths() []int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	out := make([]int, len(rq.queues))
	for i, q := range rq.queues {
		out[i] = q.Length()
	}
	return out
}

func (rq *runQueues) close() {
	rq.mu.Lock()
	if rq.closed {
		rq.mu.Unlock()
		return
	}
	rq.closed = true
	for i := range rq.queues {
		rq.queues[i] = queue.New()
	}
	rq.mu.Unlock()
	rq.cond.Broadcast()
	rq.wg.Wait()
}

func (rq *runQueues) worker(id int) {
	defer rq.wg.Done()
	own := id
	rq.mu.Lock()
	for {
		if rq.closed {
			rq.mu.Unlock()
			return
		}
		q := rq.queues[own]
		if q.Length() > 0 {
			task := q.Remove().(func())
			if q.Length() > 0 {
				// leave the rest visible to idle workers
				rq.cond.Signal()
			}
			rq.mu.Unlock()
			rq.run(id, task)
			rq.mu.Lock()
			continue
		}
		if n := rq.stealLocked(own); n > 0 {
			if rq.onSteal != nil {
				rq.onSteal(n)
			}
			continue
		}
		rq.cond.Wait()
	}
}

// stealLocked moves half (rounded up) of the longest other queue into the
// queue of thief. Caller holds rq.mu.
func (rq *runQueues) stealLocked(thief int) int {
	victim, longest := -1, 0
	for i, q := range rq.queues {
		if i != thief && q.Length() > longest {
			victim, longest = i, q.Length()
		}
	}
	if victim < 0 {
		return 0
	}
	n := (longest + 1) / 2
	for k := 0; k < n; k++ {
		rq.queues[thief].Add(rq.queues[victim].Remove())
	}
	return n
}

func (rq *runQueues) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			rq.log.WithField("worker", id).Errorf("run queue task panic: %v", r)
		}
	}()
	task()
}
