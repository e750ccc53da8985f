// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency_test

import (
	"testing"
	"time"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/internal/concurrency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newScheduler(t *testing.T) *concurrency.Scheduler {
	t.Helper()
	s := concurrency.NewScheduler(2, 2, quietLogger(), nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScheduleOnce(t *testing.T) {
	s := newScheduler(t)
	fired := make(chan time.Time, 1)
	start := time.Now()
	c, err := s.Schedule(func() { fired <- time.Now() }, 30*time.Millisecond)
	require.NoError(t, err)

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after one-shot run")
	}
}

func TestScheduleOrdering(t *testing.T) {
	s := concurrency.NewScheduler(1, 1, quietLogger(), nil)
	defer s.Close()
	out := make(chan int, 3)
	_, err := s.Schedule(func() { out <- 3 }, 60*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Schedule(func() { out <- 1 }, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Schedule(func() { out <- 2 }, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, <-out)
	assert.Equal(t, 2, <-out)
	assert.Equal(t, 3, <-out)
}

func TestCancelBeforeFire(t *testing.T) {
	s := newScheduler(t)
	var ran atomic.Bool
	c, err := s.Schedule(func() { ran.Store(true) }, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, c.Cancel())
	require.NoError(t, c.Cancel())
	<-c.Done()
	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestPeriodicContinuesAfterPanic(t *testing.T) {
	s := newScheduler(t)
	var n atomic.Int32
	c, err := s.SchedulePeriodic(func() {
		if n.Inc() == 1 {
			panic("first run fails")
		}
	}, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Cancel())
	<-c.Done()
	runs, failed := s.Stats()
	assert.GreaterOrEqual(t, runs, int64(3))
	assert.EqualValues(t, 1, failed)
}

func TestPeriodicDoesNotOverlap(t *testing.T) {
	s := concurrency.NewScheduler(4, 1, quietLogger(), nil)
	defer s.Close()
	var active, overlap atomic.Int32
	var runs atomic.Int32
	c, err := s.SchedulePeriodic(func() {
		if active.Inc() > 1 {
			overlap.Inc()
		}
		time.Sleep(15 * time.Millisecond)
		active.Dec()
		runs.Inc()
	}, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Cancel())
	assert.Zero(t, overlap.Load())
}

func TestInvalidPeriod(t *testing.T) {
	s := newScheduler(t)
	_, err := s.SchedulePeriodic(func() {}, 0)
	assert.ErrorIs(t, err, concurrency.ErrInvalidPeriod)
}

func TestDeliveryAndClose(t *testing.T) {
	s := concurrency.NewScheduler(1, 1, quietLogger(), nil)
	done := make(chan struct{})
	require.NoError(t, s.Delivery(func() { close(done) }))
	<-done

	c, err := s.Schedule(func() {}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("pending job not released on close")
	}
	_, err = s.Schedule(func() {}, 0)
	assert.ErrorIs(t, err, api.ErrSchedulerClosed)
	assert.ErrorIs(t, s.Delivery(func() {}), api.ErrSchedulerClosed)
}
