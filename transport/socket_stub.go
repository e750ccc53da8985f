//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"

	"github.com/momentics/hiolink/api"
)

// SocketChannel is unavailable on this platform.
type SocketChannel struct{}

// NewSocketChannel returns api.ErrNotSupported on this platform.
func NewSocketChannel(int, string) (*SocketChannel, error) { return nil, api.ErrNotSupported }

// FromTCPConn returns api.ErrNotSupported on this platform.
func FromTCPConn(*net.TCPConn) (*SocketChannel, error) { return nil, api.ErrNotSupported }

// Pair returns api.ErrNotSupported on this platform.
func Pair() (*SocketChannel, *SocketChannel, error) { return nil, nil, api.ErrNotSupported }

func (*SocketChannel) Fd() int                   { return -1 }
func (*SocketChannel) RemoteAddr() string        { return "" }
func (*SocketChannel) Read([]byte) (int, error)  { return 0, api.ErrNotSupported }
func (*SocketChannel) Write([]byte) (int, error) { return 0, api.ErrNotSupported }
func (*SocketChannel) OnClose(fn func())         { fn() }
func (*SocketChannel) Close() error              { return nil }
func (*SocketChannel) CloseWrite() error         { return api.ErrNotSupported }
