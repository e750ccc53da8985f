// File: lowlevel/server/server.go
// Package server accepts TCP connections and binds each one to a
// connector.Connector on a shared facade.IoContext.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/connector"
	"github.com/momentics/hiolink/facade"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyRunning = errors.New("server already running")

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithConnectorOptions applies opts to every accepted Connector.
func WithConnectorOptions(opts ...connector.Option) ServerOption {
	return func(s *Server) { s.connOpts = append(s.connOpts, opts...) }
}

// WithHandler sets the packet handler, wrapped by the given middleware.
func WithHandler(h connector.PacketHandler, mw ...Middleware) ServerOption {
	return func(s *Server) { s.handler = NewHandlerChain(h, mw...) }
}

// WithRelay pairs accepted connections two by two and relays raw bytes
// between the members of each pair.
func WithRelay() ServerOption {
	return func(s *Server) { s.relay = true }
}

// WithOnConnect observes every new Connector.
func WithOnConnect(fn func(*connector.Connector)) ServerOption {
	return func(s *Server) { s.onConnect = fn }
}

// Server is the accept loop plus the registry of live Connectors.
type Server struct {
	ctx       *facade.IoContext
	ln        *Listener
	connOpts  []connector.Option
	handler   connector.PacketHandler
	relay     bool
	onConnect func(*connector.Connector)
	log       logrus.FieldLogger

	mu      sync.Mutex
	conns   map[uuid.UUID]*connector.Connector
	waiting *connector.Connector
	running bool
	closed  bool
}

// NewServer binds addr.
func NewServer(ctx *facade.IoContext, addr string, opts ...ServerOption) (*Server, error) {
	ln, err := NewListener(addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ctx:   ctx,
		ln:    ln,
		conns: make(map[uuid.UUID]*connector.Connector),
		log:   ctx.Logger().WithField("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Connections returns the number of live Connectors.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve accepts until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.WithField("addr", s.Addr().String()).Info("listening")
	for {
		ch, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, api.ErrNotSupported) {
				return err
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		if err := s.adopt(ch); err != nil {
			s.log.WithError(err).Warn("connection rejected")
			_ = ch.Close()
		}
	}
}

func (s *Server) adopt(ch api.Channel) error {
	opts := append([]connector.Option(nil), s.connOpts...)
	if s.handler != nil {
		opts = append(opts, connector.WithPacketHandler(s.handler))
	}
	if s.relay {
		opts = append(opts, connector.WithBridge(0))
	}
	opts = append(opts, connector.WithCloseHandler(s.forget))

	c, err := connector.New(s.ctx, ch, opts...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Close()
		return nil
	}
	s.conns[c.ID()] = c
	var peer *connector.Connector
	if s.relay {
		if s.waiting == nil {
			s.waiting = c
		} else {
			peer, s.waiting = s.waiting, nil
		}
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"conn": c.ID().String(), "remote": c.RemoteAddr()}).Info("connection accepted")
	if peer != nil {
		s.pair(peer, c)
	}
	if s.onConnect != nil {
		s.onConnect(c)
	}
	return nil
}

// pair cross-binds two relay Connectors; either closing closes both.
func (s *Server) pair(a, b *connector.Connector) {
	if err := a.BridgeTo(b); err != nil {
		s.log.WithError(err).Warn("relay bind failed")
		_ = a.Close()
		_ = b.Close()
		return
	}
	if err := b.BridgeTo(a); err != nil {
		s.log.WithError(err).Warn("relay bind failed")
		_ = a.Close()
		_ = b.Close()
		return
	}
	go func() {
		select {
		case <-a.Done():
			_ = b.Close()
		case <-b.Done():
			_ = a.Close()
		}
	}()
	s.log.WithFields(logrus.Fields{"a": a.ID().String(), "b": b.ID().String()}).Info("relay paired")
}

func (s *Server) forget(c *connector.Connector, err error) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	if s.waiting == c {
		s.waiting = nil
	}
	s.mu.Unlock()
	entry := s.log.WithField("conn", c.ID().String())
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("connection closed")
}

// Close stops accepting and closes every Connector.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*connector.Connector, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	for _, c := range conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
