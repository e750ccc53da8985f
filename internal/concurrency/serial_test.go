// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hiolink/internal/concurrency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestSerialQueueExclusiveAndOrdered(t *testing.T) {
	e := concurrency.NewExecutor("serial", 8, 0, quietLogger())
	defer e.Close()
	q := concurrency.NewSerialQueue(e.Submit)

	const total = 500
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		i := i
		require.NoError(t, q.Push(func() {
			defer wg.Done()
			cur := inFlight.Inc()
			if cur > maxInFlight.Load() {
				maxInFlight.Store(cur)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inFlight.Dec()
		}))
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())
	require.Len(t, order, total)
	for i, v := range order {
		require.Equal(t, i, v)
	}
	assert.Eventually(t, func() bool { return !q.Active() }, time.Second, 5*time.Millisecond)
}

func TestSerialQueueSurvivesPanic(t *testing.T) {
	e := concurrency.NewExecutor("serial", 2, 0, quietLogger())
	defer e.Close()
	q := concurrency.NewSerialQueue(e.Submit)
	panics := make(chan any, 1)
	q.OnPanic = func(r any) { panics <- r }

	done := make(chan struct{})
	require.NoError(t, q.Push(func() { panic("bad callback") }))
	require.NoError(t, q.Push(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue stalled after panic")
	}
	assert.Equal(t, "bad callback", <-panics)
}

func TestSerialQueueSubmitFailure(t *testing.T) {
	refuse := errors.New("refused")
	q := concurrency.NewSerialQueue(func(func()) error { return refuse })
	assert.ErrorIs(t, q.Push(func() {}), refuse)
	assert.False(t, q.Active())
	assert.Equal(t, 0, q.Len())
}

func TestSerialQueueReportsIdle(t *testing.T) {
	inline := func(task func()) error { task(); return nil }
	q := concurrency.NewSerialQueue(inline)
	var idle atomic.Int32
	var activeInIdle atomic.Bool
	q.OnIdle = func() {
		idle.Inc()
		activeInIdle.Store(q.Active())
	}

	var ran atomic.Int32
	require.NoError(t, q.Push(func() { ran.Inc() }))
	require.NoError(t, q.Push(func() { ran.Inc() }))

	assert.EqualValues(t, 2, ran.Load())
	assert.EqualValues(t, 2, idle.Load(), "one stop per drain")
	assert.False(t, activeInIdle.Load(), "drain is over when OnIdle runs")
	assert.False(t, q.Active())
}
