// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch_test

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/momentics/hiolink/internal/dispatch"
	"github.com/momentics/hiolink/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentLog struct {
	mu     sync.Mutex
	sent   []*protocol.SendPacket
	closed []error
}

func (l *sentLog) callbacks() dispatch.SendCallbacks {
	return dispatch.SendCallbacks{
		OnPacketSent: func(p *protocol.SendPacket) {
			l.mu.Lock()
			l.sent = append(l.sent, p)
			l.mu.Unlock()
		},
		OnClose: func(err error) {
			l.mu.Lock()
			l.closed = append(l.closed, err)
			l.mu.Unlock()
		},
	}
}

func (l *sentLog) packets() []*protocol.SendPacket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*protocol.SendPacket(nil), l.sent...)
}

func (l *sentLog) errs() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.closed...)
}

func decodeAll(t *testing.T, b []byte) []string {
	t.Helper()
	r := bytes.NewReader(b)
	var out []string
	for r.Len() > 0 {
		h, payload, err := protocol.ReadFrame(r, 0)
		require.NoError(t, err)
		if h.IsHeartbeat() {
			out = append(out, "<hb>")
			continue
		}
		out = append(out, string(payload))
	}
	return out
}

func TestSendPreservesOrder(t *testing.T) {
	s := &stallSender{}
	log := &sentLog{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(8), log.callbacks(), quietLogger(), nil)

	a := protocol.NewStringPacket("A")
	b := protocol.NewStringPacket("a body spanning rounds")
	c := protocol.NewBytesPacket([]byte("C"))
	require.NoError(t, d.Send(a))
	require.NoError(t, d.Send(b))
	require.NoError(t, d.Send(c))
	assert.Equal(t, 2, d.Pending())
	s.drain()

	assert.Equal(t, []string{"A", "a body spanning rounds", "C"}, decodeAll(t, s.bytes()))
	assert.Equal(t, []*protocol.SendPacket{a, b, c}, log.packets())
	assert.Equal(t, dispatch.SendIdle, d.State())
}

func TestSendHeaderGoesInItsOwnRound(t *testing.T) {
	s := &stallSender{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(64), dispatch.SendCallbacks{}, quietLogger(), nil)
	require.NoError(t, d.Send(protocol.NewStringPacket("hello")))
	s.drain()
	assert.Equal(t, []int{protocol.FixedHeaderSize, 5}, s.roundSizes())
}

func TestSendHeaderLargerThanBuffer(t *testing.T) {
	fs := newMemFs(t, "/some-long-file-name.dat", "xyz")
	p, err := protocol.NewFilePacket(fs, "/some-long-file-name.dat")
	require.NoError(t, err)

	s := &stallSender{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(4), dispatch.SendCallbacks{}, quietLogger(), nil)
	require.NoError(t, d.Send(p))
	s.drain()

	h, payload, err := protocol.ReadFrame(bytes.NewReader(s.bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, "some-long-file-name.dat", string(h.Info))
	assert.Equal(t, "xyz", string(payload))
	for _, n := range s.roundSizes() {
		assert.LessOrEqual(t, n, 4)
	}
}

func TestSendHeartbeatOnlyWhenIdle(t *testing.T) {
	s := &stallSender{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(16), dispatch.SendCallbacks{}, quietLogger(), nil)

	require.True(t, d.SendHeartbeat())
	assert.False(t, d.SendHeartbeat(), "a heartbeat is already in flight")
	require.NoError(t, d.Send(protocol.NewStringPacket("after")))
	s.drain()

	assert.Equal(t, protocol.HeartbeatFrame(), s.bytes()[:protocol.FixedHeaderSize])
	assert.Equal(t, []string{"<hb>", "after"}, decodeAll(t, s.bytes()))
	assert.True(t, d.SendHeartbeat())
}

func TestSendCancel(t *testing.T) {
	s := &stallSender{}
	log := &sentLog{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(16), log.callbacks(), quietLogger(), nil)

	inflight := protocol.NewStringPacket("first")
	queued := protocol.NewStringPacket("second")
	last := protocol.NewStringPacket("third")
	require.NoError(t, d.Send(inflight))
	require.NoError(t, d.Send(queued))
	require.NoError(t, d.Send(last))

	assert.True(t, d.Cancel(queued))
	assert.True(t, queued.Canceled())
	assert.True(t, d.Cancel(inflight))
	assert.False(t, d.Cancel(protocol.NewStringPacket("unknown")))
	assert.Equal(t, 1, d.Pending())
	s.drain()

	assert.Equal(t, []string{"first", "third"}, decodeAll(t, s.bytes()), "in-flight frames always complete")
	assert.Equal(t, []*protocol.SendPacket{last}, log.packets())
}

func TestSendSourceShortIsFatal(t *testing.T) {
	s := &stallSender{}
	log := &sentLog{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(16), log.callbacks(), quietLogger(), nil)
	require.NoError(t, d.Send(protocol.NewDirectPacket(strings.NewReader("ab"), 5)))
	s.drain()

	errs := log.errs()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], io.ErrUnexpectedEOF)
	assert.Equal(t, dispatch.SendClosed, d.State())
	assert.ErrorIs(t, d.Send(protocol.NewStringPacket("late")), api.ErrClosed)
}

func TestSendOverFakePipe(t *testing.T) {
	p := newProvider(t)
	a, local, remote := wire(t, p)
	local.MaxWrite = 3

	log := &sentLog{}
	d := dispatch.NewSendDispatcher(a, buffer.NewIoArgs(8), log.callbacks(), quietLogger(), nil)
	require.NoError(t, d.Send(protocol.NewStringPacket("partial writes")))
	require.NoError(t, d.Send(protocol.NewBytesPacket([]byte("ok"))))

	assert.Eventually(t, func() bool { return len(log.packets()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"partial writes", "ok"}, decodeAll(t, local.Written()))
	assert.Equal(t, len(local.Written()), remote.Buffered())
}

func TestSendCloseDropsQueue(t *testing.T) {
	s := &stallSender{}
	log := &sentLog{}
	d := dispatch.NewSendDispatcher(s, buffer.NewIoArgs(16), log.callbacks(), quietLogger(), nil)
	require.NoError(t, d.Send(protocol.NewStringPacket("one")))
	require.NoError(t, d.Send(protocol.NewStringPacket("two")))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	s.drain()

	assert.Empty(t, log.packets())
	assert.Empty(t, log.errs())
	assert.Zero(t, d.Pending())
}
