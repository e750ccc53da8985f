// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Send-side packets. A SendPacket is a tagged value: its Type decides which
// source Open returns, there is no per-type subtype.

package protocol

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/atomic"
)

// SendPacket is an outgoing packet queued on a connection.
type SendPacket struct {
	Type   PacketType
	Length int64
	Info   []byte

	open     func() (io.ReadCloser, error)
	mu       sync.Mutex
	src      io.ReadCloser
	canceled atomic.Bool
}

// NewBytesPacket wraps b as a memory-bytes packet.
func NewBytesPacket(b []byte) *SendPacket {
	return &SendPacket{
		Type:   TypeMemoryBytes,
		Length: int64(len(b)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		},
	}
}

// NewStringPacket wraps s as a memory-string packet.
func NewStringPacket(s string) *SendPacket {
	return &SendPacket{
		Type:   TypeMemoryString,
		Length: int64(len(s)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(s)), nil
		},
	}
}

// NewFilePacket streams the file at path from fs. The base name travels
// in the header info so the receiver can name its copy.
func NewFilePacket(fs afero.Fs, path string) (*SendPacket, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	name := []byte(filepath.Base(path))
	if len(name) > MaxHeaderInfoLen {
		name = name[len(name)-MaxHeaderInfoLen:]
	}
	return &SendPacket{
		Type:   TypeStreamFile,
		Length: fi.Size(),
		Info:   name,
		open: func() (io.ReadCloser, error) {
			return fs.Open(path)
		},
	}, nil
}

// NewDirectPacket streams exactly length bytes from r. r is closed with
// the packet when it implements io.Closer.
func NewDirectPacket(r io.Reader, length int64) *SendPacket {
	return &SendPacket{
		Type:   TypeStreamDirect,
		Length: length,
		open: func() (io.ReadCloser, error) {
			if rc, ok := r.(io.ReadCloser); ok {
				return rc, nil
			}
			return io.NopCloser(r), nil
		},
	}
}

// Header returns the frame header for p.
func (p *SendPacket) Header() (FrameHeader, error) {
	return headerFor(p.Type, p.Length, p.Info)
}

// Open returns the packet source, opening it on first use.
func (p *SendPacket) Open() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src != nil {
		return p.src, nil
	}
	src, err := p.open()
	if err != nil {
		return nil, err
	}
	p.src = src
	return src, nil
}

// Close releases the source if it was opened.
func (p *SendPacket) Close() error {
	p.mu.Lock()
	src := p.src
	p.src = nil
	p.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.Close()
}

// Cancel marks p as cancelled.
func (p *SendPacket) Cancel() { p.canceled.Store(true) }

// Canceled reports whether Cancel was called.
func (p *SendPacket) Canceled() bool { return p.canceled.Load() }
