//go:build linux
// +build linux

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/momentics/hiolink/api"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// SocketChannel is a non-blocking stream socket owned by raw descriptor.
type SocketChannel struct {
	fd     int
	remote string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	onClose []func()
}

var _ api.Channel = (*SocketChannel)(nil)

// NewSocketChannel takes ownership of fd and switches it to non-blocking.
func NewSocketChannel(fd int, remote string) (*SocketChannel, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: fd %d", api.ErrInvalidArgument, fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return &SocketChannel{fd: fd, remote: remote}, nil
}

// FromTCPConn duplicates the descriptor of c into a SocketChannel and
// closes c. The returned channel is the sole owner of the connection.
func FromTCPConn(c *net.TCPConn) (*SocketChannel, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, err
	}
	dupfd := -1
	var dupErr error
	err = raw.Control(func(fd uintptr) {
		dupfd, dupErr = unix.Dup(int(fd))
	})
	if err == nil {
		err = dupErr
	}
	remote := ""
	if addr := c.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	_ = c.Close()
	if err != nil {
		return nil, fmt.Errorf("dup socket: %w", err)
	}
	unix.CloseOnExec(dupfd)
	ch, err := NewSocketChannel(dupfd, remote)
	if err != nil {
		_ = unix.Close(dupfd)
		return nil, err
	}
	return ch, nil
}

// Pair returns two connected in-process stream sockets.
func Pair() (*SocketChannel, *SocketChannel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	a, err := NewSocketChannel(fds[0], "pair:0")
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := NewSocketChannel(fds[1], "pair:1")
	if err != nil {
		_ = a.Close()
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

func (s *SocketChannel) Fd() int { return s.fd }

func (s *SocketChannel) RemoteAddr() string { return s.remote }

// Read returns (0, nil) when no data is available and io.EOF once the peer
// has shut down its write side.
func (s *SocketChannel) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, api.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		default:
			return 0, fmt.Errorf("read fd %d: %w", s.fd, err)
		}
	}
}

// Write returns (0, nil) when the socket send buffer is full.
func (s *SocketChannel) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, api.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		default:
			return 0, fmt.Errorf("write fd %d: %w", s.fd, err)
		}
	}
}

// OnClose adds a hook run once after the descriptor is closed. A hook
// added after close runs immediately.
func (s *SocketChannel) OnClose(fn func()) {
	s.mu.Lock()
	if !s.closed.Load() {
		s.onClose = append(s.onClose, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Close releases the descriptor. Repeated calls return the first result.
func (s *SocketChannel) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()
		s.closeErr = unix.Close(s.fd)
		for _, fn := range hooks {
			fn()
		}
	})
	return s.closeErr
}

// CloseWrite half-closes the socket.
func (s *SocketChannel) CloseWrite() error {
	if s.closed.Load() {
		return api.ErrClosed
	}
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}
