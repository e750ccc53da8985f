// File: lowlevel/server/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"net"

	"github.com/momentics/hiolink/transport"
)

// Listener accepts TCP connections as non-blocking socket channels.
type Listener struct {
	ln *net.TCPListener
}

// NewListener binds addr.
func NewListener(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln.(*net.TCPListener)}, nil
}

// Accept waits for and returns the next channel.
func (l *Listener) Accept() (*transport.SocketChannel, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = conn.SetNoDelay(true)
	ch, err := transport.FromTCPConn(conn)
	if err != nil {
		return nil, fmt.Errorf("adopt connection: %w", err)
	}
	return ch, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close shuts down the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}
