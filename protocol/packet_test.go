// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol_test

import (
	"io"
	"strings"
	"testing"

	"github.com/momentics/hiolink/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, p *protocol.SendPacket) string {
	t.Helper()
	src, err := p.Open()
	require.NoError(t, err)
	b, err := io.ReadAll(src)
	require.NoError(t, err)
	return string(b)
}

func TestMemoryPackets(t *testing.T) {
	s := protocol.NewStringPacket("héllo")
	assert.Equal(t, protocol.TypeMemoryString, s.Type)
	assert.EqualValues(t, len("héllo"), s.Length)
	assert.Equal(t, "héllo", readAll(t, s))
	require.NoError(t, s.Close())

	b := protocol.NewBytesPacket([]byte{9, 8})
	h, err := b.Header()
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.Length)
	assert.Equal(t, protocol.TypeMemoryBytes, h.Type)
}

func TestFilePacketUsesBaseName(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/report.csv", []byte("a,b\n1,2\n"), 0o644))

	p, err := protocol.NewFilePacket(fs, "/data/report.csv")
	require.NoError(t, err)
	assert.Equal(t, "report.csv", string(p.Info))
	assert.EqualValues(t, 8, p.Length)
	assert.Equal(t, "a,b\n1,2\n", readAll(t, p))
	assert.NoError(t, p.Close())

	_, err = protocol.NewFilePacket(fs, "/data/missing")
	assert.Error(t, err)
	_, err = protocol.NewFilePacket(fs, "/data")
	assert.Error(t, err)
}

func TestDirectPacketAndCancel(t *testing.T) {
	p := protocol.NewDirectPacket(strings.NewReader("stream"), 6)
	assert.Equal(t, "stream", readAll(t, p))
	assert.False(t, p.Canceled())
	p.Cancel()
	assert.True(t, p.Canceled())
}

func TestReceivePackets(t *testing.T) {
	m := protocol.NewMemoryReceivePacket(protocol.TypeMemoryString, 2, nil)
	w, err := m.OpenSink()
	require.NoError(t, err)
	_, _ = w.Write([]byte("ok"))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, "ok", m.String())

	fs := afero.NewMemMapFs()
	f := protocol.NewFileReceivePacket(fs, "/cache/x.bin", 3, []byte("x.bin"))
	w, err = f.OpenSink()
	require.NoError(t, err)
	_, _ = w.Write([]byte{1, 2, 3})
	require.NoError(t, f.Close())
	got, err := afero.ReadFile(fs, f.Path())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Nil(t, f.Bytes())
}

func TestDiscardDropsPartialPayload(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := protocol.NewFileReceivePacket(fs, "/cache/half.bin", 10, []byte("half.bin"))
	w, err := f.OpenSink()
	require.NoError(t, err)
	_, _ = w.Write([]byte{1, 2, 3})
	require.NoError(t, f.Discard())
	exists, err := afero.Exists(fs, "/cache/half.bin")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, f.Discard(), "second discard is a no-op")

	// never opened: nothing to remove
	require.NoError(t, protocol.NewFileReceivePacket(fs, "/cache/none", 1, nil).Discard())

	m := protocol.NewMemoryReceivePacket(protocol.TypeMemoryBytes, 4, nil)
	w, err = m.OpenSink()
	require.NoError(t, err)
	_, _ = w.Write([]byte("ab"))
	require.NoError(t, m.Discard())
	assert.Empty(t, m.Bytes())
}
