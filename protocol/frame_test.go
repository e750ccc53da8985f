// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatFrameLayout(t *testing.T) {
	hb := protocol.HeartbeatFrame()
	assert.Equal(t, []byte{0, 0, 0, 0, 0xFF, 0}, hb)

	hb[0] = 9
	assert.Equal(t, byte(0), protocol.HeartbeatFrame()[0], "copies are independent")
}

func TestEncodeHeader(t *testing.T) {
	h := protocol.FrameHeader{Length: 0x01020304, Type: protocol.TypeStreamFile, Info: []byte("a.txt")}
	enc := protocol.EncodeHeader(h)
	require.Len(t, enc, h.Size())
	assert.Equal(t, []byte{1, 2, 3, 4, 3, 5}, enc[:protocol.FixedHeaderSize])
	assert.Equal(t, "a.txt", string(enc[protocol.FixedHeaderSize:]))

	length, typ, infoLen := protocol.ParseFixedHeader(enc)
	assert.EqualValues(t, 0x01020304, length)
	assert.Equal(t, protocol.TypeStreamFile, typ)
	assert.Equal(t, 5, infoLen)
}

func TestValidateHeader(t *testing.T) {
	assert.NoError(t, protocol.ValidateHeader(0, protocol.TypeHeartbeat, 0, 0))
	assert.NoError(t, protocol.ValidateHeader(10, protocol.TypeMemoryBytes, 0, 10))

	err := protocol.ValidateHeader(1, protocol.TypeHeartbeat, 0, 0)
	assert.ErrorIs(t, err, api.ErrFraming)

	err = protocol.ValidateHeader(1, protocol.PacketType(9), 0, 0)
	assert.ErrorIs(t, err, api.ErrUnknownPacketType)
	assert.Equal(t, api.ErrCodeFraming, api.CodeOf(err))

	err = protocol.ValidateHeader(11, protocol.TypeMemoryBytes, 0, 10)
	assert.ErrorIs(t, err, api.ErrFrameTooLarge)
}

func TestFrameCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteFrame(&buf, protocol.TypeMemoryString, nil, []byte("hello")))
	require.NoError(t, protocol.WriteFrame(&buf, protocol.TypeStreamFile, []byte("f.bin"), []byte{1, 2, 3}))
	buf.Write(protocol.HeartbeatFrame())

	h, payload, err := protocol.ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeMemoryString, h.Type)
	assert.Equal(t, "hello", string(payload))

	h, payload, err = protocol.ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "f.bin", string(h.Info))
	assert.Equal(t, []byte{1, 2, 3}, payload)

	h, payload, err = protocol.ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.True(t, h.IsHeartbeat())
	assert.Empty(t, payload)

	_, _, err = protocol.ReadFrame(&buf, 0)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteFrame(&buf, protocol.TypeMemoryBytes, nil, []byte("abcdef")))
	short := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, _, err := protocol.ReadFrame(short, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteFrameRejectsLongInfo(t *testing.T) {
	err := protocol.WriteFrame(io.Discard, protocol.TypeStreamFile, make([]byte, 256), nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
