// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/momentics/hiolink/internal/dispatch"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemFs(t *testing.T, path, content string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	return fs
}

func TestBridgeKeepsBytesBufferedBeforeBind(t *testing.T) {
	p := newProvider(t)
	in, inLocal, _ := wire(t, p)
	out, outLocal, _ := wire(t, p)

	b := dispatch.NewBridgeDispatcher(in, 4, 16, quietLogger(), nil)
	require.NoError(t, b.Start())
	defer b.Close()

	require.NoError(t, inLocal.Inject([]byte{1, 2, 3}))
	assert.Eventually(t, func() bool { return b.Buffered() == 3 }, waitFor, 5*time.Millisecond)

	b.BindSender(out)
	assert.Eventually(t, func() bool { return bytes.Equal(outLocal.Written(), []byte{1, 2, 3}) },
		waitFor, 5*time.Millisecond)
	assert.Zero(t, b.Buffered())
}

func TestBridgePausesWhenRingIsFull(t *testing.T) {
	p := newProvider(t)
	in, inLocal, _ := wire(t, p)
	out, outLocal, _ := wire(t, p)

	b := dispatch.NewBridgeDispatcher(in, 8, 4, quietLogger(), nil)
	require.NoError(t, b.Start())
	defer b.Close()

	payload := []byte("0123456789")
	require.NoError(t, inLocal.Inject(payload))
	assert.Eventually(t, func() bool { return b.Buffered() == 4 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 6, inLocal.Buffered(), "reception stops at ring capacity")

	b.BindSender(out)
	assert.Eventually(t, func() bool { return bytes.Equal(outLocal.Written(), payload) },
		waitFor, 5*time.Millisecond)
}

func TestBridgeRebindDropsOldBytes(t *testing.T) {
	p := newProvider(t)
	in, inLocal, _ := wire(t, p)

	b := dispatch.NewBridgeDispatcher(in, 8, 16, quietLogger(), nil)
	require.NoError(t, b.Start())
	defer b.Close()

	first := &stallSender{}
	b.BindSender(first)
	require.NoError(t, inLocal.Inject([]byte("old")))
	assert.Eventually(t, func() bool { return len(first.bytes()) == 3 }, waitFor, 5*time.Millisecond)

	second := &stallSender{}
	b.BindSender(second)
	first.drain()
	require.NoError(t, inLocal.Inject([]byte("new")))
	assert.Eventually(t, func() bool { return len(second.bytes()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "new", string(second.bytes()))
	assert.Equal(t, "old", string(first.bytes()))
}

func TestBridgeReportsPeerClose(t *testing.T) {
	p := newProvider(t)
	in, _, inRemote := wire(t, p)

	closed := make(chan error, 2)
	b := dispatch.NewBridgeDispatcher(in, 8, 16, quietLogger(), nil)
	b.OnClose = func(err error) { closed <- err }
	require.NoError(t, b.Start())

	require.NoError(t, inRemote.Close())
	select {
	case err := <-closed:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(waitFor):
		t.Fatal("bridge did not report close")
	}
	require.NoError(t, b.Close())
	assert.Len(t, closed, 0)
}
