// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer scheduler: one goroutine watches a min-heap of deadlines and hands
// due jobs to a worker Executor. Owner callbacks go to a separate delivery
// Executor.

package concurrency

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Scheduler implements api.Scheduler.
type Scheduler struct {
	mu     sync.Mutex
	timerQ jobHeap
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}

	workers  *Executor
	delivery *Executor
	log      logrus.FieldLogger
	metrics  *control.Metrics

	runs   atomic.Int64
	failed atomic.Int64
}

var _ api.Scheduler = (*Scheduler)(nil)

// NewScheduler starts the timer goroutine with the given pool sizes.
func NewScheduler(workers, deliveryWorkers int, log logrus.FieldLogger, m *control.Metrics) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if workers <= 0 {
		workers = 1
	}
	if deliveryWorkers <= 0 {
		deliveryWorkers = 1
	}
	s := &Scheduler{
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		workers:  NewExecutor("scheduler", workers, 0, log),
		delivery: NewExecutor("delivery", deliveryWorkers, 0, log),
		log:      log.WithField("component", "scheduler"),
		metrics:  m,
	}
	go s.run()
	return s
}

// Schedule runs fn once after delay. A negative delay is treated as zero.
func (s *Scheduler) Schedule(fn func(), delay time.Duration) (api.Cancelable, error) {
	if delay < 0 {
		delay = 0
	}
	return s.add(fn, delay, 0)
}

// SchedulePeriodic runs fn every period, first after one period. The next
// run is planned only once the current one has returned.
func (s *Scheduler) SchedulePeriodic(fn func(), period time.Duration) (api.Cancelable, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, period)
	}
	return s.add(fn, period, period)
}

// Delivery runs fn on the delivery pool.
func (s *Scheduler) Delivery(fn func()) error {
	if err := s.delivery.Submit(fn); err != nil {
		if err == ErrExecutorClosed {
			return api.ErrSchedulerClosed
		}
		return err
	}
	return nil
}

// Stats reports executed and panicked job counts.
func (s *Scheduler) Stats() (runs, failed int64) {
	return s.runs.Load(), s.failed.Load()
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerQ.Len()
}

// Close stops the timer goroutine and both pools. Pending jobs are
// cancelled. It must not be called from a job or a delivery callback.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.timerQ
	s.timerQ = nil
	s.mu.Unlock()

	for _, j := range pending {
		j.index = -1
		j.canceled.Store(true)
		j.finish()
	}
	close(s.stop)
	<-s.done
	s.workers.Close()
	s.delivery.Close()
	return nil
}

func (s *Scheduler) add(fn func(), delay, period time.Duration) (api.Cancelable, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil job", api.ErrInvalidArgument)
	}
	j := &job{
		s:      s,
		fn:     fn,
		when:   time.Now().Add(delay),
		period: period,
		index:  -1,
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, api.ErrSchedulerClosed
	}
	heap.Push(&s.timerQ, j)
	head := s.timerQ[0] == j
	s.mu.Unlock()
	if head {
		s.poke()
	}
	return j, nil
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	var due []*job
	for {
		s.mu.Lock()
		now := time.Now()
		due = due[:0]
		for s.timerQ.Len() > 0 && !s.timerQ[0].when.After(now) {
			due = append(due, heap.Pop(&s.timerQ).(*job))
		}
		var timer *time.Timer
		var fire <-chan time.Time
		if s.timerQ.Len() > 0 {
			timer = time.NewTimer(s.timerQ[0].when.Sub(now))
			fire = timer.C
		}
		s.mu.Unlock()

		for _, j := range due {
			s.dispatch(j)
		}

		select {
		case <-fire:
		case <-s.wake:
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) dispatch(j *job) {
	if j.canceled.Load() {
		j.finish()
		return
	}
	err := s.workers.Submit(func() {
		s.execute(j)
		s.reschedule(j)
	})
	if err != nil {
		s.log.WithError(err).Warn("job dropped")
		s.reschedule(j)
	}
}

func (s *Scheduler) execute(j *job) {
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			s.failed.Inc()
			s.log.Errorf("scheduled job panic: %v", r)
		}
		s.runs.Inc()
		s.metrics.JobRun(failed)
	}()
	j.fn()
}

func (s *Scheduler) reschedule(j *job) {
	if j.period <= 0 || j.canceled.Load() {
		j.finish()
		return
	}
	next := j.when.Add(j.period)
	if now := time.Now(); next.Before(now) {
		next = now
	}
	s.mu.Lock()
	if s.closed || j.canceled.Load() {
		s.mu.Unlock()
		j.finish()
		return
	}
	j.when = next
	heap.Push(&s.timerQ, j)
	head := s.timerQ[0] == j
	s.mu.Unlock()
	if head {
		s.poke()
	}
}

// job is a heap entry and the Cancelable handed to callers.
type job struct {
	s        *Scheduler
	fn       func()
	when     time.Time
	period   time.Duration
	index    int
	canceled atomic.Bool
	once     sync.Once
	done     chan struct{}
}

// Cancel suppresses future runs. A run already in progress completes.
func (j *job) Cancel() error {
	if !j.canceled.CompareAndSwap(false, true) {
		return nil
	}
	s := j.s
	s.mu.Lock()
	armed := j.index >= 0
	if armed {
		heap.Remove(&s.timerQ, j.index)
	}
	s.mu.Unlock()
	if armed {
		j.finish()
	}
	return nil
}

func (j *job) Done() <-chan struct{} { return j.done }

func (j *job) finish() {
	j.once.Do(func() { close(j.done) })
}

type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(a, b int) bool { return h[a].when.Before(h[b].when) }
func (h jobHeap) Swap(a, b int) {
	h[a], h[b] = h[b], h[a]
	h[a].index = a
	h[b].index = b
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}
