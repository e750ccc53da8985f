// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer_test

import (
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/momentics/hiolink/core/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoArgsWriteThenRead(t *testing.T) {
	a := buffer.NewIoArgs(8)
	a.StartWriting()
	assert.True(t, a.Writing())
	assert.Equal(t, 3, a.WriteFromBytes([]byte("abc")))
	assert.Equal(t, 5, a.Remained())
	a.FinishWriting()

	assert.Equal(t, 3, a.Written())
	assert.Equal(t, []byte("abc"), a.Bytes())

	out := make([]byte, 2)
	assert.Equal(t, 2, a.ReadToBytes(out))
	assert.Equal(t, []byte("ab"), out)
	assert.Equal(t, 1, a.Remained())
}

func TestIoArgsLimitBoundsOneRound(t *testing.T) {
	a := buffer.NewIoArgs(16)
	a.Limit(4)
	a.StartWriting()
	n, err := a.WriteFrom(bytes.NewReader([]byte("0123456789")))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	a.FinishWriting()
	assert.Equal(t, []byte("0123"), a.Bytes())

	a.Limit(100)
	a.StartWriting()
	assert.Equal(t, 16, a.Remained(), "limit clamps to capacity")
	a.FinishWriting()

	a.Limit(2)
	a.ResetLimit()
	a.StartWriting()
	assert.Equal(t, 16, a.Remained())
}

func TestIoArgsShortReads(t *testing.T) {
	a := buffer.NewIoArgs(10)
	a.StartWriting()
	n, err := a.WriteFrom(iotest.OneByteReader(bytes.NewReader([]byte("hello"))))
	assert.Equal(t, 5, n)
	assert.Error(t, err, "EOF surfaces after the source is exhausted")
	a.FinishWriting()
	assert.Equal(t, "hello", string(a.Bytes()))
}

func TestIoArgsReadTo(t *testing.T) {
	a := buffer.NewIoArgs(8)
	a.StartWriting()
	a.WriteFromBytes([]byte("payload"))
	a.FinishWriting()

	var dst bytes.Buffer
	n, err := a.ReadTo(&dst)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", dst.String())
	assert.Zero(t, a.Remained())
}

func TestIoArgsPhaseViolations(t *testing.T) {
	a := buffer.NewIoArgs(4)
	assert.Panics(t, func() { a.FinishWriting() })
	assert.Panics(t, func() { a.WriteFromBytes([]byte("x")) })

	a.StartWriting()
	assert.Panics(t, func() { a.StartWriting() })
	assert.Panics(t, func() { a.Limit(2) })
	assert.Panics(t, func() { a.Bytes() })

	assert.Panics(t, func() { buffer.NewIoArgs(0) })
}

func TestPoolRecyclesResetArgs(t *testing.T) {
	p := buffer.NewPool(32)
	a := p.Get()
	a.Limit(3)
	a.StartWriting()
	a.WriteFromBytes([]byte("abc"))
	a.FinishWriting()
	assert.EqualValues(t, 1, p.Outstanding())
	p.Put(a)
	assert.EqualValues(t, 0, p.Outstanding())

	b := p.Get()
	assert.Equal(t, 32, b.Capacity())
	assert.False(t, b.Writing())
	b.StartWriting()
	assert.Equal(t, 32, b.Remained())

	p.Put(buffer.NewIoArgs(8)) // wrong size is ignored
	assert.EqualValues(t, 1, p.Outstanding())
	assert.Equal(t, buffer.DefaultIoArgsSize, buffer.NewPool(0).Size())
}
