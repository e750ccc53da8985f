// File: connector/connector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connector is the per-connection session: it owns one channel, the
// socket adapter acting as its Sender and Receiver, a send and a receive
// dispatcher (or a bridge dispatcher in relay mode) and the jobs scheduled
// on its behalf. Owner callbacks are delivered in order on the delivery
// pool of the IoContext, never on a provider worker.

package connector

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/momentics/hiolink/facade"
	"github.com/momentics/hiolink/internal/concurrency"
	"github.com/momentics/hiolink/internal/dispatch"
	"github.com/momentics/hiolink/protocol"
	"github.com/momentics/hiolink/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// State is the lifecycle stage of a Connector.
type State int32

const (
	StateCreated State = iota
	StateBound
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrBridgeMode is returned by framed operations on a relay Connector.
	ErrBridgeMode = errors.New("connector: operation not available in bridge mode")
	// ErrNotBridge is returned by BridgeTo when either side is not a relay.
	ErrNotBridge = errors.New("connector: not in bridge mode")
)

// Connector is one framed (or relayed) connection.
type Connector struct {
	id      uuid.UUID
	ctx     *facade.IoContext
	ch      api.Channel
	adapter *transport.SocketAdapter
	sendD   *dispatch.SendDispatcher
	recvD   *dispatch.ReceiveDispatcher
	bridge  *dispatch.BridgeDispatcher
	opts    options
	log     logrus.FieldLogger

	// pooled args, returned once the adapter is quiet
	sendArgs *buffer.IoArgs
	recvArgs *buffer.IoArgs

	state    atomic.Int32
	closing  atomic.Bool
	closed   chan struct{}
	closeErr error

	delivery *concurrency.SerialQueue
	events   chan Event

	jobsMu sync.Mutex
	jobs   []api.Cancelable
	idle   *IdleTimeoutJob
}

// channelCloseNotifier is implemented by channels that report closes made
// outside the Connector, e.g. eviction by the provider.
type channelCloseNotifier interface {
	OnClose(func())
}

// New binds ch to a new Connector and starts reception. On error ch is
// left open and owned by the caller.
func New(ctx *facade.IoContext, ch api.Channel, opts ...Option) (*Connector, error) {
	if ctx == nil || ch == nil {
		return nil, api.ErrInvalidArgument
	}
	cfg := ctx.Config()
	c := &Connector{
		id:     uuid.New(),
		ctx:    ctx,
		ch:     ch,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if !c.opts.idleSet && !c.opts.bridge {
		c.opts.idle, c.opts.peer = cfg.Session.IdleTimeout, cfg.Session.PeerTimeout
	}
	if !c.opts.cacheDirSet {
		c.opts.cacheDir = cfg.Session.CacheDir
	}
	if c.opts.cacheDir == "" {
		c.opts.cacheDir = defaultCacheDir()
	}
	if c.opts.factory == nil {
		c.opts.factory = DefaultPacketFactory(ctx.Fs(), c.opts.cacheDir)
	}
	if c.opts.events > 0 {
		c.events = make(chan Event, c.opts.events)
	}
	c.log = ctx.Logger().WithFields(logrus.Fields{
		"component": "connector",
		"conn":      c.id.String(),
		"remote":    ch.RemoteAddr(),
	})
	c.delivery = concurrency.NewSerialQueue(ctx.Scheduler().Delivery)
	c.delivery.OnPanic = func(r any) { c.log.Errorf("owner callback panic: %v", r) }
	c.state.Store(int32(StateCreated))

	m := ctx.Metrics()
	c.adapter = transport.NewSocketAdapter(ch, ctx.Provider(), c.log, m)
	c.sendArgs = ctx.Buffers().Get()
	c.sendD = dispatch.NewSendDispatcher(c.adapter, c.sendArgs, dispatch.SendCallbacks{
		OnPacketSent: c.onPacketSent,
		OnClose:      c.onFailure,
	}, c.log, m)

	var start func() error
	if c.opts.bridge {
		size := c.opts.bridgeSize
		if size <= 0 {
			size = cfg.Bridge.BufferSize
		}
		c.bridge = dispatch.NewBridgeDispatcher(c.adapter, ctx.Buffers().Size(), size, c.log, m)
		c.bridge.OnClose = c.onFailure
		start = c.bridge.Start
	} else {
		c.recvArgs = ctx.Buffers().Get()
		c.recvD = dispatch.NewReceiveDispatcher(c.adapter, c.recvArgs, cfg.IO.MaxFrameLength,
			dispatch.ReceiveCallbacks{
				NewPacket:      c.opts.factory,
				OnPacket:       c.onPacket,
				OnPacketFailed: c.onPacketFailed,
				OnHeartbeat:    c.onHeartbeat,
				OnClose:        c.onFailure,
			}, c.log, m)
		start = c.recvD.Start
	}
	c.state.Store(int32(StateBound))

	if err := start(); err != nil {
		_ = c.adapter.Close()
		c.releaseArgs()
		c.state.Store(int32(StateClosed))
		close(c.closed)
		return nil, fmt.Errorf("start receive: %w", err)
	}
	c.state.Store(int32(StateActive))
	m.ConnectionOpened()

	if n, ok := ch.(channelCloseNotifier); ok {
		n.OnClose(func() { c.closeWith(api.ErrClosed) })
	}
	if c.opts.idle > 0 && !c.opts.bridge {
		c.idle = NewIdleTimeoutJob(c, c.opts.idle, c.opts.peer)
		if _, err := c.SchedulePeriodic(c.idle.Run, c.idle.Period()); err != nil {
			c.log.WithError(err).Warn("idle timeout job not scheduled")
		}
	}
	c.log.Debug("connector active")
	return c, nil
}

func (c *Connector) ID() uuid.UUID        { return c.id }
func (c *Connector) RemoteAddr() string   { return c.ch.RemoteAddr() }
func (c *Connector) State() State         { return State(c.state.Load()) }
func (c *Connector) Channel() api.Channel { return c.ch }

// Done is closed once the Connector is fully closed.
func (c *Connector) Done() <-chan struct{} { return c.closed }

// Events returns the event channel, or nil when WithEvents was not given.
// It is closed after the EventClosed event.
func (c *Connector) Events() <-chan Event { return c.events }

// LastActivity returns when bytes were last received from the peer.
func (c *Connector) LastActivity() time.Time {
	if c.recvD == nil {
		return time.Time{}
	}
	return c.recvD.LastActivity()
}

// LastSend returns when a packet was last fully written.
func (c *Connector) LastSend() time.Time { return c.sendD.LastActivity() }

// Send queues p for transmission. It never blocks.
func (c *Connector) Send(p *protocol.SendPacket) error {
	if c.closing.Load() {
		return api.ErrClosed
	}
	if c.bridge != nil {
		return ErrBridgeMode
	}
	if err := c.sendD.Send(p); err != nil {
		if errors.Is(err, api.ErrClosed) {
			return api.ErrClosed
		}
		return err
	}
	return nil
}

// SendString queues a memory-string packet.
func (c *Connector) SendString(s string) error {
	return c.Send(protocol.NewStringPacket(s))
}

// SendBytes queues a memory-bytes packet. b must not be modified until the
// packet was sent.
func (c *Connector) SendBytes(b []byte) error {
	return c.Send(protocol.NewBytesPacket(b))
}

// SendFile queues a stream-file packet read from the context file system.
func (c *Connector) SendFile(path string) (*protocol.SendPacket, error) {
	p, err := protocol.NewFilePacket(c.ctx.Fs(), path)
	if err != nil {
		return nil, err
	}
	return p, c.Send(p)
}

// Cancel withdraws a queued packet; see dispatch.SendDispatcher.Cancel.
func (c *Connector) Cancel(p *protocol.SendPacket) bool {
	return c.sendD.Cancel(p)
}

// SendHeartbeat writes a heartbeat frame when the send side is idle.
func (c *Connector) SendHeartbeat() bool {
	if c.closing.Load() || c.bridge != nil {
		return false
	}
	return c.sendD.SendHeartbeat()
}

// Schedule runs fn once after delay unless the Connector closes first.
func (c *Connector) Schedule(fn func(), delay time.Duration) (api.Cancelable, error) {
	return c.track(func() (api.Cancelable, error) { return c.ctx.Scheduler().Schedule(fn, delay) })
}

// SchedulePeriodic runs fn every period until the Connector closes.
func (c *Connector) SchedulePeriodic(fn func(), period time.Duration) (api.Cancelable, error) {
	return c.track(func() (api.Cancelable, error) { return c.ctx.Scheduler().SchedulePeriodic(fn, period) })
}

func (c *Connector) track(schedule func() (api.Cancelable, error)) (api.Cancelable, error) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	if c.closing.Load() {
		return nil, api.ErrClosed
	}
	job, err := schedule()
	if err != nil {
		return nil, err
	}
	live := c.jobs[:0]
	for _, j := range c.jobs {
		select {
		case <-j.Done():
		default:
			live = append(live, j)
		}
	}
	c.jobs = append(live, job)
	return job, nil
}

// BridgeTo relays every byte received by c to other. Both Connectors must
// be in bridge mode. Bytes c buffered before the call are forwarded first.
func (c *Connector) BridgeTo(other *Connector) error {
	if c.bridge == nil || other == nil || other.bridge == nil {
		return ErrNotBridge
	}
	if c.closing.Load() || other.closing.Load() {
		return api.ErrClosed
	}
	c.bridge.BindSender(other.adapter)
	return nil
}

// Close tears the Connector down. It is safe to call any number of times
// from any goroutine; only the first call does work and returns its error.
func (c *Connector) Close() error {
	return c.closeWith(nil)
}

// CloseWithError closes the Connector and reports cause to the close chain.
func (c *Connector) CloseWithError(cause error) error {
	return c.closeWith(cause)
}

func (c *Connector) closeWith(cause error) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.state.Store(int32(StateClosing))

	var result *multierror.Error
	add := func(what string, err error) {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", what, err))
		}
	}
	if c.recvD != nil {
		add("receive dispatcher", c.recvD.Close())
	}
	if c.bridge != nil {
		add("bridge dispatcher", c.bridge.Close())
	}
	add("send dispatcher", c.sendD.Close())
	add("sender", c.adapter.Close())
	add("receiver", c.adapter.Close())
	c.releaseArgs()
	add("channel", c.ch.Close())

	c.jobsMu.Lock()
	jobs := c.jobs
	c.jobs = nil
	c.jobsMu.Unlock()
	for _, j := range jobs {
		_ = j.Cancel()
	}

	c.closeErr = result.ErrorOrNil()
	c.state.Store(int32(StateClosed))
	c.ctx.Metrics().ConnectionClosed()
	if cause != nil {
		c.log.WithError(cause).Info("connector closed")
	} else {
		c.log.Debug("connector closed")
	}

	c.deliver(func() {
		for _, h := range c.opts.closers {
			h(c, cause)
		}
		c.publish(Event{Kind: EventClosed, Err: cause})
		if c.events != nil {
			close(c.events)
		}
		close(c.closed)
	})
	return c.closeErr
}

// releaseArgs hands the pooled args back once no callback can reach them.
func (c *Connector) releaseArgs() {
	pool := c.ctx.Buffers()
	sendArgs, recvArgs := c.sendArgs, c.recvArgs
	c.adapter.Release(func() {
		pool.Put(sendArgs)
		pool.Put(recvArgs)
	})
}

// deliver runs fn on the delivery pool in submission order. When the pool
// is gone fn runs on the calling goroutine.
func (c *Connector) deliver(fn func()) {
	if err := c.delivery.Push(fn); err != nil {
		c.log.WithError(err).Debug("delivery pool unavailable, running inline")
		fn()
	}
}

func (c *Connector) publish(ev Event) bool {
	if c.events == nil {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.log.WithField("event", ev.Kind.String()).Warn("event channel full, event dropped")
		return false
	}
}

func (c *Connector) onPacket(p *protocol.ReceivePacket) {
	c.deliver(func() {
		for _, h := range c.opts.handlers {
			if h(c, p) {
				return
			}
		}
		if !c.publish(Event{Kind: EventPacket, Packet: p}) {
			c.log.WithField("type", p.Type.String()).Debug("packet not consumed")
		}
	})
}

func (c *Connector) onPacketFailed(p *protocol.ReceivePacket, err error) {
	c.log.WithError(err).WithField("type", p.Type.String()).Debug("packet abandoned")
	c.deliver(func() {
		for _, h := range c.opts.failed {
			h(c, p, err)
		}
		c.publish(Event{Kind: EventPacketFailed, Packet: p, Err: err})
	})
}

func (c *Connector) onHeartbeat() {
	if c.idle == nil {
		// the peer drives keepalive; answer it
		c.sendD.SendHeartbeat()
	}
	c.deliver(func() {
		for _, h := range c.opts.heartbeats {
			h(c)
		}
		c.publish(Event{Kind: EventHeartbeat})
	})
}

func (c *Connector) onPacketSent(p *protocol.SendPacket) {
	if len(c.opts.sent) == 0 {
		return
	}
	c.deliver(func() {
		for _, h := range c.opts.sent {
			h(c, p)
		}
	})
}

// onFailure handles fatal dispatcher errors.
func (c *Connector) onFailure(err error) {
	_ = c.closeWith(err)
}
