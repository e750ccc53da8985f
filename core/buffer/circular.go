// File: core/buffer/circular.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded circular byte buffer shared by one producer and one consumer.

package buffer

import "sync"

// CircularBuffer is a fixed-capacity byte ring. Read and Write never block;
// they move as many bytes as fit and report the count.
type CircularBuffer struct {
	mu   sync.Mutex
	data []byte
	r    int
	n    int
}

// NewCircularBuffer allocates a ring of the given size.
func NewCircularBuffer(size int) *CircularBuffer {
	if size <= 0 {
		size = 512
	}
	return &CircularBuffer{data: make([]byte, size)}
}

// Write appends p. It returns ErrBufferFull together with the number of
// bytes stored when p does not fit completely.
func (c *CircularBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.data)
	written := 0
	for written < len(p) && c.n < size {
		w := (c.r + c.n) % size
		end := size
		if w < c.r {
			end = c.r
		}
		k := copy(c.data[w:end], p[written:])
		written += k
		c.n += k
	}
	if written < len(p) {
		return written, ErrBufferFull
	}
	return written, nil
}

// Read moves up to len(p) buffered bytes into p. An empty buffer yields
// (0, nil) so callers treat it as would-block.
func (c *CircularBuffer) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.data)
	read := 0
	for read < len(p) && c.n > 0 {
		end := c.r + c.n
		if end > size {
			end = size
		}
		k := copy(p[read:], c.data[c.r:end])
		read += k
		c.r = (c.r + k) % size
		c.n -= k
	}
	if c.n == 0 {
		c.r = 0
	}
	return read, nil
}

// Available returns the number of buffered bytes.
func (c *CircularBuffer) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Free returns the remaining capacity.
func (c *CircularBuffer) Free() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data) - c.n
}

// Clear drops all buffered bytes.
func (c *CircularBuffer) Clear() {
	c.mu.Lock()
	c.r, c.n = 0, 0
	c.mu.Unlock()
}
