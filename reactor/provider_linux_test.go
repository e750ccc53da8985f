//go:build linux
// +build linux

// Author: momentics <momentics@gmail.com>

package reactor

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const waitFor = 2 * time.Second

func testOptions() Options {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return Options{Workers: 2, QueueSize: 64, Logger: l}
}

func socketPair(t *testing.T) (*transport.SocketChannel, *transport.SocketChannel) {
	t.Helper()
	a, b, err := transport.Pair()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func providers(t *testing.T) map[string]*Provider {
	t.Helper()
	dual, err := NewDualProvider(testOptions())
	require.NoError(t, err)
	single, err := NewSingleProvider(testOptions())
	require.NoError(t, err)
	stealing, err := NewStealingProvider(3, testOptions())
	require.NoError(t, err)
	out := map[string]*Provider{"dual": dual, "single": single, "stealing": stealing}
	t.Cleanup(func() {
		for _, p := range out {
			_ = p.Close()
		}
	})
	return out
}

func TestReadinessFiresOncePerRegistration(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			a, b := socketPair(t)
			_, err := b.Write([]byte("ping"))
			require.NoError(t, err)

			var reads, writes atomic.Int32
			require.NoError(t, p.Register(a, api.InterestRead, func() error { reads.Inc(); return nil }))
			require.NoError(t, p.Register(a, api.InterestWrite, func() error { writes.Inc(); return nil }))

			assert.Eventually(t, func() bool { return reads.Load() == 1 && writes.Load() == 1 },
				waitFor, time.Millisecond)
			time.Sleep(20 * time.Millisecond)
			assert.EqualValues(t, 1, reads.Load(), "one-shot read")
			assert.EqualValues(t, 1, writes.Load(), "one-shot write")

			require.NoError(t, p.Register(a, api.InterestRead, func() error { reads.Inc(); return nil }))
			assert.Eventually(t, func() bool { return reads.Load() == 2 }, waitFor, time.Millisecond)
			require.NoError(t, p.Unregister(a))
		})
	}
}

func TestRegisterErrors(t *testing.T) {
	p, err := NewSingleProvider(testOptions())
	require.NoError(t, err)
	a, _ := socketPair(t)

	noop := func() error { return nil }
	assert.ErrorIs(t, p.Register(nil, api.InterestRead, noop), api.ErrInvalidArgument)
	assert.ErrorIs(t, p.Register(a, 0, noop), api.ErrInvalidArgument)
	assert.ErrorIs(t, p.Register(a, api.InterestRead, nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, p.Unregister(a), api.ErrNotRegistered)

	require.NoError(t, p.Register(a, api.InterestRead, noop))
	other := fdChannel{fd: a.Fd()}
	assert.ErrorIs(t, p.Register(other, api.InterestRead, noop), api.ErrAlreadyRegistered)
	assert.ErrorIs(t, p.Unregister(other), api.ErrNotRegistered)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Register(a, api.InterestRead, noop), api.ErrProviderClosed)

	_, err = NewStealingProvider(0, testOptions())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestStealingAssignsLeastLoaded(t *testing.T) {
	p, err := NewStealingProvider(3, testOptions())
	require.NoError(t, err)
	defer p.Close()

	noop := func() error { return nil }
	var chans []*transport.SocketChannel
	for i := 0; i < 5; i++ {
		a, _ := socketPair(t)
		require.NoError(t, p.Register(a, api.InterestRead, noop))
		chans = append(chans, a)
	}
	assert.Equal(t, []int{2, 2, 1}, p.Stats().Load)

	// chans[0] lives on selector 0
	require.NoError(t, p.Unregister(chans[0]))
	assert.Equal(t, []int{1, 2, 1}, p.Stats().Load)

	a, _ := socketPair(t)
	require.NoError(t, p.Register(a, api.InterestRead, noop))
	assert.Equal(t, []int{2, 2, 1}, p.Stats().Load, "ties go to the lowest index")
	assert.Equal(t, StrategyStealing, p.Stats().Strategy)
}

func TestDualLoadCountsBothSelectors(t *testing.T) {
	p, err := NewDualProvider(testOptions())
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketPair(t)
	require.NoError(t, p.Register(a, api.InterestRead, func() error { return nil }))
	assert.Equal(t, []int{1, 1}, p.Stats().Load)
	require.NoError(t, p.Unregister(a))
	assert.Equal(t, []int{0, 0}, p.Stats().Load)
}

func TestCallbacksOfOneChannelNeverOverlap(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			a, b := socketPair(t)
			_, err := b.Write([]byte("x"))
			require.NoError(t, err)

			var inside, overlaps, runs atomic.Int32
			var cb func(bit api.Interest) api.ReadyFunc
			cb = func(bit api.Interest) api.ReadyFunc {
				return func() error {
					if inside.Inc() > 1 {
						overlaps.Inc()
					}
					time.Sleep(100 * time.Microsecond)
					inside.Dec()
					if runs.Inc() < 200 {
						return p.Register(a, bit, cb(bit))
					}
					return nil
				}
			}
			require.NoError(t, p.Register(a, api.InterestRead, cb(api.InterestRead)))
			require.NoError(t, p.Register(a, api.InterestWrite, cb(api.InterestWrite)))

			assert.Eventually(t, func() bool { return runs.Load() >= 200 }, 5*time.Second, time.Millisecond)
			assert.Zero(t, overlaps.Load())
			_ = p.Unregister(a)
		})
	}
}

func TestReRegisterDuringCallbackStaysSerial(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			a, b := socketPair(t)
			_, err := b.Write([]byte("x"))
			require.NoError(t, err)

			var inside, overlaps, writes atomic.Int32
			enter := func() {
				if inside.Inc() > 1 {
					overlaps.Inc()
				}
			}
			onWrite := func() error {
				enter()
				time.Sleep(5 * time.Millisecond)
				inside.Dec()
				writes.Inc()
				return nil
			}
			onRead := func() error {
				enter()
				defer inside.Dec()
				if err := p.Unregister(a); err != nil {
					return err
				}
				if err := p.Register(a, api.InterestWrite, onWrite); err != nil {
					return err
				}
				// the socket is writable at once; the write callback must wait
				time.Sleep(50 * time.Millisecond)
				return nil
			}
			require.NoError(t, p.Register(a, api.InterestRead, onRead))

			assert.Eventually(t, func() bool { return writes.Load() == 1 }, waitFor, time.Millisecond)
			assert.Zero(t, overlaps.Load(), "callbacks of one channel overlapped")

			require.NoError(t, p.Unregister(a))
			assert.Eventually(t, func() bool {
				p.mu.Lock()
				defer p.mu.Unlock()
				return len(p.owners) == 0
			}, waitFor, time.Millisecond, "owner kept after its queue drained")
		})
	}
}

func TestOwnerReleasedWhenIdle(t *testing.T) {
	p, err := NewSingleProvider(testOptions())
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketPair(t)
	require.NoError(t, p.Register(a, api.InterestRead, func() error { return nil }))
	p.mu.Lock()
	o := p.owners[a]
	p.mu.Unlock()
	require.NotNil(t, o)

	require.NoError(t, p.Unregister(a))
	p.mu.Lock()
	_, kept := p.owners[a]
	p.mu.Unlock()
	assert.False(t, kept, "an idle owner goes with its registration")

	require.NoError(t, p.Register(a, api.InterestRead, func() error { return nil }))
	p.mu.Lock()
	assert.NotSame(t, o, p.owners[a])
	p.mu.Unlock()
	require.NoError(t, p.Unregister(a))
}

func TestFailingChannelIsEvicted(t *testing.T) {
	p, err := NewStealingProvider(2, testOptions())
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	_, err = b.Write([]byte("data"))
	require.NoError(t, err)

	closed := make(chan struct{})
	a.OnClose(func() { close(closed) })

	var calls atomic.Int32
	var cb api.ReadyFunc
	cb = func() error {
		n := calls.Inc()
		_ = p.Register(a, api.InterestRead, cb)
		if n == 2 {
			panic("callback blew up")
		}
		return errors.New("cannot handle")
	}
	require.NoError(t, p.Register(a, api.InterestRead, cb))

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("channel not evicted")
	}
	st := p.Stats()
	assert.EqualValues(t, DefaultMaxCallbackFailures, st.Failures)
	assert.EqualValues(t, 1, st.Evictions)
	assert.Equal(t, []int{0, 0}, st.Load)
	assert.ErrorIs(t, p.Unregister(a), api.ErrNotRegistered)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	p, err := NewSingleProvider(testOptions())
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketPair(t)
	var calls atomic.Int32
	var cb api.ReadyFunc
	cb = func() error {
		n := calls.Inc()
		if n < 12 {
			_ = p.Register(a, api.InterestWrite, cb)
		}
		if n%2 == 0 {
			return nil
		}
		return errors.New("odd call")
	}
	require.NoError(t, p.Register(a, api.InterestWrite, cb))
	assert.Eventually(t, func() bool { return calls.Load() == 12 }, waitFor, time.Millisecond)
	assert.Zero(t, p.Stats().Evictions)
}

func TestReadinessMapping(t *testing.T) {
	both := api.InterestRead | api.InterestWrite
	assert.Equal(t, api.InterestRead, readiness(unix.EPOLLIN, both))
	assert.Equal(t, api.InterestWrite, readiness(unix.EPOLLOUT, both))
	assert.Equal(t, both, readiness(unix.EPOLLERR, both))
	assert.Equal(t, api.InterestRead, readiness(unix.EPOLLHUP, api.InterestRead))
	assert.Equal(t, api.Interest(0), readiness(unix.EPOLLOUT, api.InterestRead))
	assert.NotZero(t, epollMask(api.InterestRead)&unix.EPOLLONESHOT)
}

type fdChannel struct{ fd int }

func (c fdChannel) Fd() int                 { return c.fd }
func (fdChannel) Read([]byte) (int, error)  { return 0, nil }
func (fdChannel) Write([]byte) (int, error) { return 0, nil }
func (fdChannel) Close() error              { return nil }
func (fdChannel) RemoteAddr() string        { return "fd" }
