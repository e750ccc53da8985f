// File: connector/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connector

import (
	"time"

	"github.com/momentics/hiolink/internal/dispatch"
	"github.com/momentics/hiolink/protocol"
)

// PacketHandler inspects a completed packet and reports whether it consumed
// it. Handlers are tried in registration order until one returns true.
type PacketHandler func(c *Connector, p *protocol.ReceivePacket) bool

// CloseHandler runs once after the Connector closed. err is nil for an
// owner-initiated Close.
type CloseHandler func(c *Connector, err error)

// PacketFailedHandler observes a packet the peer stopped sending mid-body.
// Its partial payload is already discarded.
type PacketFailedHandler func(c *Connector, p *protocol.ReceivePacket, err error)

// HeartbeatHandler observes heartbeat frames from the peer.
type HeartbeatHandler func(c *Connector)

// SentHandler observes packets fully written to the channel.
type SentHandler func(c *Connector, p *protocol.SendPacket)

// DefaultEventBuffer is the capacity of the Events channel.
const DefaultEventBuffer = 64

// Option customizes New.
type Option func(*options)

type options struct {
	factory     dispatch.PacketFactory
	handlers    []PacketHandler
	closers     []CloseHandler
	failed      []PacketFailedHandler
	heartbeats  []HeartbeatHandler
	sent        []SentHandler
	events      int
	idle        time.Duration
	peer        time.Duration
	idleSet     bool
	bridge      bool
	bridgeSize  int
	cacheDir    string
	cacheDirSet bool
}

// WithPacketFactory replaces the default factory, which keeps bytes,
// string and direct payloads in memory and stores stream-file payloads in
// the session cache directory.
func WithPacketFactory(f dispatch.PacketFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithPacketHandler appends handlers to the packet chain.
func WithPacketHandler(h ...PacketHandler) Option {
	return func(o *options) { o.handlers = append(o.handlers, h...) }
}

// WithCloseHandler appends handlers to the close chain.
func WithCloseHandler(h ...CloseHandler) Option {
	return func(o *options) { o.closers = append(o.closers, h...) }
}

// WithPacketFailedHandler appends observers of abandoned packets. They run
// on the delivery queue ahead of the close chain.
func WithPacketFailedHandler(h ...PacketFailedHandler) Option {
	return func(o *options) { o.failed = append(o.failed, h...) }
}

// WithHeartbeatHandler appends heartbeat observers.
func WithHeartbeatHandler(h ...HeartbeatHandler) Option {
	return func(o *options) { o.heartbeats = append(o.heartbeats, h...) }
}

// WithSentHandler appends send completion observers.
func WithSentHandler(h ...SentHandler) Option {
	return func(o *options) { o.sent = append(o.sent, h...) }
}

// WithEvents enables the Events channel with the given buffer; size <= 0
// selects DefaultEventBuffer. Packets not consumed by a handler, abandoned
// packets, heartbeats and the final close are published there.
func WithEvents(size int) Option {
	return func(o *options) {
		if size <= 0 {
			size = DefaultEventBuffer
		}
		o.events = size
	}
}

// WithIdleTimeout schedules an IdleTimeoutJob: after idle without peer
// traffic one heartbeat is sent, after peer the Connector is closed with
// api.ErrPeerTimeout. peer must exceed idle. A zero idle disables the job.
// Without this option the session settings of the IoContext apply.
func WithIdleTimeout(idle, peer time.Duration) Option {
	return func(o *options) { o.idle, o.peer, o.idleSet = idle, peer, true }
}

// WithCacheDir sets where stream-file payloads are stored.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir, o.cacheDirSet = dir, true }
}

// WithBridge creates the Connector in relay mode: received bytes are not
// framed but buffered for the Connector later bound with BridgeTo.
// ringSize <= 0 uses the configured bridge buffer size.
func WithBridge(ringSize int) Option {
	return func(o *options) { o.bridge, o.bridgeSize = true, ringSize }
}
