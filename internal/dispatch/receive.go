// File: internal/dispatch/receive.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/momentics/hiolink/protocol"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ReceiveState is the framing state of a ReceiveDispatcher.
type ReceiveState int32

const (
	// ReceiveIdle waits for the first byte of a frame.
	ReceiveIdle ReceiveState = iota
	// ReceiveAwaitingHeader holds a partial fixed header or header info.
	ReceiveAwaitingHeader
	// ReceiveAwaitingBody streams payload bytes into the packet sink.
	ReceiveAwaitingBody
	// ReceiveClosed is terminal.
	ReceiveClosed
)

func (s ReceiveState) String() string {
	switch s {
	case ReceiveIdle:
		return "idle"
	case ReceiveAwaitingHeader:
		return "awaiting-header"
	case ReceiveAwaitingBody:
		return "awaiting-body"
	case ReceiveClosed:
		return "closed"
	}
	return "unknown"
}

// PacketFactory decides where the payload of an incoming frame goes.
// Returning an error or a nil packet refuses the frame.
type PacketFactory func(t protocol.PacketType, length int64, info []byte) (*protocol.ReceivePacket, error)

// ReceiveCallbacks are the owner hooks of a ReceiveDispatcher. Only
// NewPacket is required.
type ReceiveCallbacks struct {
	NewPacket PacketFactory
	// OnPacket receives completed packets in assembly order.
	OnPacket func(*protocol.ReceivePacket)
	// OnPacketFailed receives a packet abandoned mid-body, already discarded.
	OnPacketFailed func(*protocol.ReceivePacket, error)
	// OnHeartbeat is called for every heartbeat frame.
	OnHeartbeat func()
	// OnClose reports a fatal receive error: I/O failure, peer close
	// (io.EOF) or a framing violation. It is not called for Close.
	OnClose func(error)
}

// ReceiveDispatcher reassembles frames from a Receiver.
type ReceiveDispatcher struct {
	receiver  api.Receiver
	args      *buffer.IoArgs
	cb        ReceiveCallbacks
	maxLength uint32
	log       logrus.FieldLogger
	metrics   *control.Metrics

	mu        sync.Mutex
	state     ReceiveState
	header    [protocol.FixedHeaderSize + protocol.MaxHeaderInfoLen]byte
	headerN   int
	length    uint32
	ptype     protocol.PacketType
	infoLen   int
	packet    *protocol.ReceivePacket
	sink      io.Writer
	remaining int64

	lastActivity atomic.Int64
}

// NewReceiveDispatcher builds a dispatcher reading through r into args.
// maxLength of zero means protocol.DefaultMaxFrameLength.
func NewReceiveDispatcher(r api.Receiver, args *buffer.IoArgs, maxLength uint32, cb ReceiveCallbacks,
	log logrus.FieldLogger, m *control.Metrics) *ReceiveDispatcher {
	if maxLength == 0 {
		maxLength = protocol.DefaultMaxFrameLength
	}
	d := &ReceiveDispatcher{
		receiver:  r,
		args:      args,
		cb:        cb,
		maxLength: maxLength,
		log:       control.OrDiscard(log).WithField("component", "receive-dispatcher"),
		metrics:   m,
	}
	d.lastActivity.Store(time.Now().UnixNano())
	return d
}

// Start posts the first receive.
func (d *ReceiveDispatcher) Start() error {
	if d.cb.NewPacket == nil {
		return fmt.Errorf("%w: packet factory required", api.ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == ReceiveClosed {
		return api.ErrClosed
	}
	return d.postLocked()
}

// State returns the current framing state.
func (d *ReceiveDispatcher) State() ReceiveState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastActivity returns when bytes were last received.
func (d *ReceiveDispatcher) LastActivity() time.Time {
	return time.Unix(0, d.lastActivity.Load())
}

// Close stops reception. An in-flight packet is discarded and reported through
// OnPacketFailed with api.ErrClosed. Repeated calls are no-ops.
func (d *ReceiveDispatcher) Close() error {
	d.shutdown(api.ErrClosed, false)
	return nil
}

// need returns how many bytes the current state wants next.
func (d *ReceiveDispatcher) needLocked() int {
	switch d.state {
	case ReceiveAwaitingBody:
		if d.remaining > int64(d.args.Capacity()) {
			return d.args.Capacity()
		}
		return int(d.remaining)
	default:
		if d.headerN < protocol.FixedHeaderSize {
			return protocol.FixedHeaderSize - d.headerN
		}
		return protocol.FixedHeaderSize + d.infoLen - d.headerN
	}
}

func (d *ReceiveDispatcher) postLocked() error {
	d.args.Limit(d.needLocked())
	d.args.StartWriting()
	return d.receiver.PostReceive(d.args, d.onReceived)
}

func (d *ReceiveDispatcher) onReceived(args *buffer.IoArgs, err error) {
	if err != nil {
		d.mu.Lock()
		if args.Writing() {
			args.FinishWriting()
		}
		d.mu.Unlock()
		d.shutdown(err, true)
		return
	}

	d.mu.Lock()
	if d.state == ReceiveClosed {
		d.mu.Unlock()
		return
	}
	args.FinishWriting()
	d.lastActivity.Store(time.Now().UnixNano())
	done, heartbeat, perr := d.consumeLocked(args.Bytes())
	if perr == nil {
		perr = d.postLocked()
	}
	d.mu.Unlock()

	if heartbeat {
		d.metrics.Heartbeat("in")
		if d.cb.OnHeartbeat != nil {
			d.cb.OnHeartbeat()
		}
	}
	if done != nil {
		d.metrics.FrameReceived(done.Type.String())
		if d.cb.OnPacket != nil {
			d.cb.OnPacket(done)
		}
	}
	if perr != nil {
		d.shutdown(perr, true)
	}
}

// consumeLocked advances the state machine with data, which never spans
// past the current stage because reads are limited to needLocked.
func (d *ReceiveDispatcher) consumeLocked(data []byte) (done *protocol.ReceivePacket, heartbeat bool, err error) {
	if len(data) == 0 {
		return nil, false, nil
	}
	if d.state == ReceiveAwaitingBody {
		n, werr := d.sink.Write(data)
		d.remaining -= int64(n)
		if werr != nil {
			return nil, false, fmt.Errorf("write packet sink: %w", werr)
		}
		if n < len(data) {
			return nil, false, fmt.Errorf("write packet sink: short write %d of %d", n, len(data))
		}
		if d.remaining == 0 {
			return d.completeLocked()
		}
		return nil, false, nil
	}

	d.state = ReceiveAwaitingHeader
	d.headerN += copy(d.header[d.headerN:], data)
	if d.headerN < protocol.FixedHeaderSize {
		return nil, false, nil
	}
	if d.headerN == protocol.FixedHeaderSize {
		d.length, d.ptype, d.infoLen = protocol.ParseFixedHeader(d.header[:protocol.FixedHeaderSize])
		if err := protocol.ValidateHeader(d.length, d.ptype, d.infoLen, d.maxLength); err != nil {
			return nil, false, err
		}
		if d.ptype == protocol.TypeHeartbeat {
			d.resetLocked()
			return nil, true, nil
		}
	}
	if d.headerN < protocol.FixedHeaderSize+d.infoLen {
		return nil, false, nil
	}
	return d.beginPacketLocked()
}

func (d *ReceiveDispatcher) beginPacketLocked() (*protocol.ReceivePacket, bool, error) {
	info := append([]byte(nil), d.header[protocol.FixedHeaderSize:d.headerN]...)
	p, err := d.cb.NewPacket(d.ptype, int64(d.length), info)
	if err == nil && p == nil {
		err = api.ErrInvalidArgument
	}
	if err != nil {
		return nil, false, api.WrapError(api.ErrCodeFraming, fmt.Errorf("%w: packet refused: %w", api.ErrFraming, err)).
			WithContext("type", d.ptype.String())
	}
	sink, err := p.OpenSink()
	if err != nil {
		_ = p.Close()
		return nil, false, fmt.Errorf("open packet sink: %w", err)
	}
	d.packet = p
	d.sink = sink
	d.remaining = int64(d.length)
	d.state = ReceiveAwaitingBody
	if d.remaining == 0 {
		return d.completeLocked()
	}
	return nil, false, nil
}

func (d *ReceiveDispatcher) completeLocked() (*protocol.ReceivePacket, bool, error) {
	p := d.packet
	d.resetLocked()
	if err := p.Close(); err != nil {
		d.packet = p
		return nil, false, fmt.Errorf("close packet sink: %w", err)
	}
	return p, false, nil
}

func (d *ReceiveDispatcher) resetLocked() {
	d.state = ReceiveIdle
	d.headerN = 0
	d.infoLen = 0
	d.length = 0
	d.packet = nil
	d.sink = nil
	d.remaining = 0
}

// shutdown moves to ReceiveClosed once. notify selects OnClose.
func (d *ReceiveDispatcher) shutdown(cause error, notify bool) {
	d.mu.Lock()
	if d.state == ReceiveClosed {
		d.mu.Unlock()
		return
	}
	p := d.packet
	d.resetLocked()
	d.state = ReceiveClosed
	d.mu.Unlock()

	if p != nil {
		if err := p.Discard(); err != nil {
			d.log.WithError(err).Debug("discard partial packet")
		}
		if d.cb.OnPacketFailed != nil {
			d.cb.OnPacketFailed(p, cause)
		}
	}
	if notify {
		d.log.WithError(cause).Debug("receive stopped")
		if d.cb.OnClose != nil {
			d.cb.OnClose(cause)
		}
	}
}
