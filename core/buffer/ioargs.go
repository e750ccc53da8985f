// File: core/buffer/ioargs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IoArgs is the unit of transfer between a dispatcher and a channel.
// A single IoArgs alternates between a writing phase (being filled from a
// channel or from memory) and a readable phase (being drained to a consumer).

package buffer

import (
	"fmt"
	"io"
)

type phase uint8

const (
	phaseReadable phase = iota
	phaseWriting
)

// IoArgs wraps a fixed-capacity byte slice with position and limit cursors.
type IoArgs struct {
	buf   []byte
	pos   int
	limit int // active limit for the current phase
	cap   int // limit requested through Limit, applied on StartWriting
	phase phase
	// written is the number of bytes produced by the last writing phase.
	written int
}

// NewIoArgs allocates an IoArgs with the given capacity.
func NewIoArgs(capacity int) *IoArgs {
	if capacity <= 0 {
		panic(fmt.Errorf("%w: capacity %d", ErrPhase, capacity))
	}
	return &IoArgs{
		buf:   make([]byte, capacity),
		limit: 0,
		cap:   capacity,
	}
}

// Capacity returns the size of the backing slice.
func (a *IoArgs) Capacity() int { return len(a.buf) }

// Limit caps how many bytes the next writing phase may accept.
// Values above capacity are clamped. Must be called outside the writing phase.
func (a *IoArgs) Limit(n int) {
	if a.phase == phaseWriting {
		panic(fmt.Errorf("%w: Limit during writing phase", ErrPhase))
	}
	if n < 0 {
		n = 0
	}
	if n > len(a.buf) {
		n = len(a.buf)
	}
	a.cap = n
}

// ResetLimit restores the limit to the full capacity.
func (a *IoArgs) ResetLimit() {
	a.Limit(len(a.buf))
}

// StartWriting enters the fill phase and resets the position.
func (a *IoArgs) StartWriting() {
	if a.phase == phaseWriting {
		panic(fmt.Errorf("%w: StartWriting twice", ErrPhase))
	}
	a.phase = phaseWriting
	a.pos = 0
	a.limit = a.cap
	a.written = 0
}

// FinishWriting flips to the readable phase; the readable window is exactly
// the bytes written since StartWriting.
func (a *IoArgs) FinishWriting() {
	if a.phase != phaseWriting {
		panic(fmt.Errorf("%w: FinishWriting without StartWriting", ErrPhase))
	}
	a.phase = phaseReadable
	a.written = a.pos
	a.limit = a.pos
	a.pos = 0
}

// Writing reports whether the fill phase is active.
func (a *IoArgs) Writing() bool { return a.phase == phaseWriting }

// Remained returns bytes left before the limit in the current phase.
func (a *IoArgs) Remained() int { return a.limit - a.pos }

// Written returns how many bytes the last writing phase produced.
func (a *IoArgs) Written() int { return a.written }

// Bytes returns the unconsumed readable window without advancing.
func (a *IoArgs) Bytes() []byte {
	a.mustBe(phaseReadable, "Bytes")
	return a.buf[a.pos:a.limit]
}

// WriteFrom fills the buffer from src until the limit is reached or src
// returns zero bytes. A zero-length read is treated as would-block.
func (a *IoArgs) WriteFrom(src io.Reader) (int, error) {
	a.mustBe(phaseWriting, "WriteFrom")
	total := 0
	for a.pos < a.limit {
		n, err := src.Read(a.buf[a.pos:a.limit])
		a.pos += n
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// ReadTo drains the readable window into dst until it is empty or dst
// accepts zero bytes.
func (a *IoArgs) ReadTo(dst io.Writer) (int, error) {
	a.mustBe(phaseReadable, "ReadTo")
	total := 0
	for a.pos < a.limit {
		n, err := dst.Write(a.buf[a.pos:a.limit])
		a.pos += n
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// WriteFromBytes copies as much of p as fits into the writing window.
func (a *IoArgs) WriteFromBytes(p []byte) int {
	a.mustBe(phaseWriting, "WriteFromBytes")
	n := copy(a.buf[a.pos:a.limit], p)
	a.pos += n
	return n
}

// ReadToBytes copies as much of the readable window as fits into p.
func (a *IoArgs) ReadToBytes(p []byte) int {
	a.mustBe(phaseReadable, "ReadToBytes")
	n := copy(p, a.buf[a.pos:a.limit])
	a.pos += n
	return n
}

func (a *IoArgs) mustBe(want phase, op string) {
	if a.phase != want {
		panic(fmt.Errorf("%w: %s in wrong phase", ErrPhase, op))
	}
}

func (a *IoArgs) reset() {
	a.phase = phaseReadable
	a.pos, a.limit, a.written = 0, 0, 0
	a.cap = len(a.buf)
}
