// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Receive-side packets: destinations for frame payloads.

package protocol

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"sync"

	"github.com/spf13/afero"
)

// ReceivePacket collects the payload of one incoming frame.
// Memory packets buffer in RAM; file packets write to a file on an afero.Fs.
type ReceivePacket struct {
	Type   PacketType
	Length int64
	Info   []byte

	mu     sync.Mutex
	mem    *bytes.Buffer
	fs     afero.Fs
	path   string
	sink   io.WriteCloser
	closed bool
}

// NewMemoryReceivePacket buffers the payload in memory.
func NewMemoryReceivePacket(t PacketType, length int64, info []byte) *ReceivePacket {
	return &ReceivePacket{Type: t, Length: length, Info: info, mem: new(bytes.Buffer)}
}

// NewFileReceivePacket writes the payload to path on fs.
func NewFileReceivePacket(fs afero.Fs, path string, length int64, info []byte) *ReceivePacket {
	return &ReceivePacket{Type: TypeStreamFile, Length: length, Info: info, fs: fs, path: path}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// OpenSink returns the writer receiving payload bytes.
func (p *ReceivePacket) OpenSink() (io.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink != nil {
		return p.sink, nil
	}
	if p.mem != nil {
		if p.Length > 0 && p.Length < 1<<20 {
			p.mem.Grow(int(p.Length))
		}
		p.sink = nopWriteCloser{p.mem}
		return p.sink, nil
	}
	f, err := p.fs.Create(p.path)
	if err != nil {
		return nil, err
	}
	p.sink = f
	return f, nil
}

// Close closes the sink once; later calls are no-ops.
func (p *ReceivePacket) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.sink == nil {
		return nil
	}
	return p.sink.Close()
}

// Discard closes the packet and drops what was received so far. A file
// packet removes its partial file.
func (p *ReceivePacket) Discard() error {
	err := p.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem != nil {
		p.mem.Reset()
		return err
	}
	if p.sink == nil {
		return err
	}
	if rerr := p.fs.Remove(p.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

// Bytes returns buffered memory payload; nil for file packets.
func (p *ReceivePacket) Bytes() []byte {
	if p.mem == nil {
		return nil
	}
	return p.mem.Bytes()
}

// String returns the memory payload as text.
func (p *ReceivePacket) String() string {
	return string(p.Bytes())
}

// Path returns the file location for file packets.
func (p *ReceivePacket) Path() string { return p.path }
