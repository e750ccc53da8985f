// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/momentics/hiolink/api"
	"go.uber.org/atomic"
)

var nextID atomic.Int64

// Channel is one end of an in-memory duplex pipe. It never blocks: Read
// returns (0, nil) when empty, and io.EOF after the peer closed.
type Channel struct {
	id   int
	name string

	mu       sync.Mutex
	inbox    bytes.Buffer
	peer     *Channel
	closed   bool
	eof      bool
	watchers []func()
	written  bytes.Buffer

	// MaxRead caps the bytes returned by one Read; 0 means unlimited.
	MaxRead int
	// MaxWrite caps the bytes accepted by one Write; 0 means unlimited.
	MaxWrite int

	closes atomic.Int32
}

var _ api.Channel = (*Channel)(nil)

// Pipe returns two connected channels.
func Pipe() (*Channel, *Channel) {
	a := &Channel{id: int(nextID.Inc()), name: "fake:a"}
	b := &Channel{id: int(nextID.Inc()), name: "fake:b"}
	a.peer, b.peer = b, a
	return a, b
}

func (c *Channel) Fd() int { return c.id }

func (c *Channel) RemoteAddr() string { return c.name }

func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, api.ErrClosed
	}
	if c.inbox.Len() > 0 {
		if c.MaxRead > 0 && len(p) > c.MaxRead {
			p = p[:c.MaxRead]
		}
		return c.inbox.Read(p)
	}
	if c.eof {
		return 0, io.EOF
	}
	return 0, nil
}

func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, api.ErrClosed
	}
	if c.MaxWrite > 0 && len(p) > c.MaxWrite {
		p = p[:c.MaxWrite]
	}
	c.written.Write(p)
	peer := c.peer
	c.mu.Unlock()
	if err := peer.deliver(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Inject appends bytes to the inbox as if the peer had written them.
func (c *Channel) Inject(p []byte) error {
	return c.deliver(p)
}

// Written returns a copy of everything written on this end.
func (c *Channel) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

// Buffered returns the number of unread inbox bytes.
func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.Len()
}

func (c *Channel) deliver(p []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("write to %s: %w", c.name, io.ErrClosedPipe)
	}
	c.inbox.Write(p)
	w := append([]func(){}, c.watchers...)
	c.mu.Unlock()
	for _, fn := range w {
		fn()
	}
	return nil
}

// Close closes this end; the peer then reads io.EOF.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closes.Inc()
	own := append([]func(){}, c.watchers...)
	c.mu.Unlock()

	peer := c.peer
	peer.mu.Lock()
	peer.eof = true
	theirs := append([]func(){}, peer.watchers...)
	peer.mu.Unlock()
	for _, fn := range append(own, theirs...) {
		fn()
	}
	return nil
}

// Closes returns how many times the channel was actually closed.
func (c *Channel) Closes() int { return int(c.closes.Load()) }

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) watch(fn func()) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

func (c *Channel) readable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.Len() > 0 || c.eof || c.closed
}
