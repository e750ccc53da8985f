// File: internal/dispatch/bridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"fmt"
	"sync"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/sirupsen/logrus"
)

// DefaultBridgeBufferSize is the relay ring capacity used when none is set.
const DefaultBridgeBufferSize = 512

// BridgeDispatcher relays raw bytes from one Receiver to whichever Sender is
// currently bound, through a bounded ring. No framing is applied. When the
// ring is full reception pauses until the sender drains it.
type BridgeDispatcher struct {
	receiver api.Receiver
	recvArgs *buffer.IoArgs
	argsSize int
	ring     *buffer.CircularBuffer
	log      logrus.FieldLogger
	metrics  *control.Metrics

	// OnClose reports a receive or send failure. Set before Start.
	OnClose func(error)

	mu       sync.Mutex
	sender   api.Sender
	sendArgs *buffer.IoArgs
	gen      uint64
	sending  bool
	paused   bool
	started  bool
	closed   bool
}

// NewBridgeDispatcher builds a relay reading from r. ringSize <= 0 selects
// DefaultBridgeBufferSize.
func NewBridgeDispatcher(r api.Receiver, argsSize, ringSize int, log logrus.FieldLogger, m *control.Metrics) *BridgeDispatcher {
	if argsSize <= 0 {
		argsSize = buffer.DefaultIoArgsSize
	}
	if ringSize <= 0 {
		ringSize = DefaultBridgeBufferSize
	}
	return &BridgeDispatcher{
		receiver: r,
		recvArgs: buffer.NewIoArgs(argsSize),
		argsSize: argsSize,
		ring:     buffer.NewCircularBuffer(ringSize),
		log:      control.OrDiscard(log).WithField("component", "bridge-dispatcher"),
		metrics:  m,
	}
}

// Start begins reception.
func (b *BridgeDispatcher) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return api.ErrClosed
	}
	if b.started {
		return nil
	}
	b.started = true
	return b.postReceiveLocked()
}

// Buffered returns the number of bytes waiting for a sender.
func (b *BridgeDispatcher) Buffered() int { return b.ring.Available() }

// BindSender attaches s as the relay target; nil detaches. Replacing a
// previously bound sender discards buffered bytes and any in-flight send
// state so the new peer never sees bytes meant for the old one. Bytes
// buffered while no sender was bound are kept for the first sender.
func (b *BridgeDispatcher) BindSender(s api.Sender) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.sender != nil {
		b.ring.Clear()
	}
	b.gen++
	b.sending = false
	b.sender = s
	b.sendArgs = buffer.NewIoArgs(b.argsSize)
	resume := b.resumeLocked()
	b.mu.Unlock()
	if resume != nil {
		b.fail(resume)
		return
	}
	b.requestSend()
}

// Close stops relaying. The bound sender and the receiver stay open.
func (b *BridgeDispatcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.sender = nil
	b.gen++
	b.ring.Clear()
	return nil
}

func (b *BridgeDispatcher) postReceiveLocked() error {
	limit := b.ring.Free()
	if limit == 0 {
		b.paused = true
		return nil
	}
	b.paused = false
	b.recvArgs.Limit(limit)
	b.recvArgs.StartWriting()
	return b.receiver.PostReceive(b.recvArgs, b.onReceived)
}

func (b *BridgeDispatcher) resumeLocked() error {
	if !b.paused || b.closed {
		return nil
	}
	return b.postReceiveLocked()
}

func (b *BridgeDispatcher) onReceived(args *buffer.IoArgs, err error) {
	if err != nil {
		b.fail(err)
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	args.FinishWriting()
	if _, werr := args.ReadTo(b.ring); werr != nil {
		// receive is limited to the free space, so this is a lost race
		// with a concurrent rebind
		b.log.WithError(werr).Warn("bridge ring overflow")
	}
	perr := b.postReceiveLocked()
	b.mu.Unlock()
	if perr != nil {
		b.fail(perr)
		return
	}
	b.requestSend()
}

// requestSend starts a send round if none is in flight and a sender is bound.
func (b *BridgeDispatcher) requestSend() {
	b.mu.Lock()
	if b.closed || b.sending || b.sender == nil || b.ring.Available() == 0 {
		b.mu.Unlock()
		return
	}
	args := b.sendArgs
	args.ResetLimit()
	args.StartWriting()
	_, _ = args.WriteFrom(b.ring)
	args.FinishWriting()
	b.sending = true
	gen := b.gen
	s := b.sender
	resume := b.resumeLocked()
	b.mu.Unlock()

	if resume != nil {
		b.fail(resume)
		return
	}
	err := s.PostSend(args, func(_ *buffer.IoArgs, err error) { b.onSent(gen, err) })
	if err != nil {
		b.onSent(gen, fmt.Errorf("post send: %w", err))
	}
}

func (b *BridgeDispatcher) onSent(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.gen {
		// completion of a detached sender
		b.mu.Unlock()
		return
	}
	b.sending = false
	if err != nil {
		b.sender = nil
		b.mu.Unlock()
		b.log.WithError(err).Debug("bridge send failed")
		b.fail(err)
		return
	}
	b.mu.Unlock()
	b.requestSend()
}

func (b *BridgeDispatcher) fail(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.sender = nil
	b.gen++
	b.ring.Clear()
	b.mu.Unlock()
	b.log.WithError(err).Debug("bridge stopped")
	if b.OnClose != nil {
		b.OnClose(err)
	}
}
