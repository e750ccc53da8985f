// File: internal/dispatch/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/momentics/hiolink/protocol"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// SendState is the framing state of a SendDispatcher.
type SendState int32

const (
	SendIdle SendState = iota
	SendingHeader
	SendingBody
	SendClosed
)

func (s SendState) String() string {
	switch s {
	case SendIdle:
		return "idle"
	case SendingHeader:
		return "sending-header"
	case SendingBody:
		return "sending-body"
	case SendClosed:
		return "closed"
	}
	return "unknown"
}

// SendCallbacks are the owner hooks of a SendDispatcher.
type SendCallbacks struct {
	// OnPacketSent fires after the last byte of a packet was written,
	// unless the packet was cancelled.
	OnPacketSent func(*protocol.SendPacket)
	// OnClose reports a fatal send error. It is not called for Close.
	OnClose func(error)
}

// SendDispatcher serializes queued packets into frames. The header of a
// packet always goes out in its own round; the body follows one IoArgs at
// a time. Packets leave in submission order.
type SendDispatcher struct {
	sender  api.Sender
	args    *buffer.IoArgs
	cb      SendCallbacks
	log     logrus.FieldLogger
	metrics *control.Metrics

	mu        sync.Mutex
	state     SendState
	pending   *queue.Queue
	current   *protocol.SendPacket
	header    []byte
	headerOff int
	src       io.Reader
	remaining int64
	beating   bool

	lastActivity atomic.Int64
}

// NewSendDispatcher builds a dispatcher writing through s with args.
func NewSendDispatcher(s api.Sender, args *buffer.IoArgs, cb SendCallbacks, log logrus.FieldLogger, m *control.Metrics) *SendDispatcher {
	d := &SendDispatcher{
		sender:  s,
		args:    args,
		cb:      cb,
		log:     control.OrDiscard(log).WithField("component", "send-dispatcher"),
		metrics: m,
		pending: queue.New(),
	}
	d.lastActivity.Store(time.Now().UnixNano())
	return d
}

// Send queues p. It never blocks. After Close it returns api.ErrClosed.
func (d *SendDispatcher) Send(p *protocol.SendPacket) error {
	if p == nil {
		return api.ErrInvalidArgument
	}
	if _, err := p.Header(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.state == SendClosed {
		d.mu.Unlock()
		return api.ErrClosed
	}
	d.pending.Add(p)
	if d.state != SendIdle {
		d.mu.Unlock()
		return nil
	}
	post, sent, err := d.prepareLocked()
	d.mu.Unlock()
	d.after(post, sent, err)
	return nil
}

// SendHeartbeat writes a heartbeat frame if nothing is queued or in
// flight. It reports whether a heartbeat was started.
func (d *SendDispatcher) SendHeartbeat() bool {
	d.mu.Lock()
	if d.state != SendIdle || d.pending.Length() > 0 {
		d.mu.Unlock()
		return false
	}
	d.args.ResetLimit()
	d.args.StartWriting()
	d.args.WriteFromBytes(protocol.HeartbeatFrame())
	d.args.FinishWriting()
	d.beating = true
	d.state = SendingHeader
	d.mu.Unlock()
	d.after(true, nil, nil)
	return true
}

// Cancel removes p from the queue. If p is already being written its frame
// is completed but OnPacketSent is suppressed. It reports whether p was
// found.
func (d *SendDispatcher) Cancel(p *protocol.SendPacket) bool {
	if p == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == p {
		p.Cancel()
		return true
	}
	found := false
	rest := queue.New()
	for d.pending.Length() > 0 {
		q := d.pending.Remove().(*protocol.SendPacket)
		if q == p {
			found = true
			continue
		}
		rest.Add(q)
	}
	d.pending = rest
	if found {
		p.Cancel()
	}
	return found
}

// Pending returns the number of queued packets, excluding the in-flight one.
func (d *SendDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Length()
}

// State returns the current framing state.
func (d *SendDispatcher) State() SendState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastActivity returns when a packet was last fully written.
func (d *SendDispatcher) LastActivity() time.Time {
	return time.Unix(0, d.lastActivity.Load())
}

// Close drops queued packets and stops sending. Repeated calls are no-ops.
func (d *SendDispatcher) Close() error {
	d.shutdown(api.ErrClosed, false)
	return nil
}

func (d *SendDispatcher) onSent(_ *buffer.IoArgs, err error) {
	if err != nil {
		d.shutdown(err, true)
		return
	}
	d.mu.Lock()
	if d.state == SendClosed {
		d.mu.Unlock()
		return
	}
	post, sent, perr := d.prepareLocked()
	d.mu.Unlock()
	d.after(post, sent, perr)
}

// after runs outside the lock: owner notices, then the next post.
func (d *SendDispatcher) after(post bool, sent []*protocol.SendPacket, err error) {
	for _, p := range sent {
		if d.cb.OnPacketSent != nil {
			d.cb.OnPacketSent(p)
		}
	}
	if err != nil {
		d.shutdown(err, true)
		return
	}
	if !post {
		return
	}
	if err := d.sender.PostSend(d.args, d.onSent); err != nil {
		d.shutdown(fmt.Errorf("post send: %w", err), true)
	}
}

// prepareLocked fills args with the next round. post is false when the
// queue is exhausted. Zero-length packets may finish without a body round.
func (d *SendDispatcher) prepareLocked() (post bool, sent []*protocol.SendPacket, err error) {
	if d.beating {
		d.beating = false
		d.metrics.Heartbeat("out")
	}
	for {
		if d.current == nil {
			p := d.popLocked()
			if p == nil {
				d.state = SendIdle
				return false, sent, nil
			}
			h, _ := p.Header()
			d.current = p
			d.header = protocol.EncodeHeader(h)
			d.headerOff = 0
			d.remaining = p.Length
			d.src = nil
			d.state = SendingHeader
		}

		if d.state == SendingHeader {
			if d.headerOff < len(d.header) {
				d.args.ResetLimit()
				d.args.StartWriting()
				d.headerOff += d.args.WriteFromBytes(d.header[d.headerOff:])
				d.args.FinishWriting()
				return true, sent, nil
			}
			if d.remaining == 0 {
				sent = d.finishLocked(sent)
				continue
			}
			src, err := d.current.Open()
			if err != nil {
				return false, sent, fmt.Errorf("open packet source: %w", err)
			}
			d.src = src
			d.state = SendingBody
		}

		if d.remaining == 0 {
			sent = d.finishLocked(sent)
			continue
		}
		limit := d.args.Capacity()
		if int64(limit) > d.remaining {
			limit = int(d.remaining)
		}
		d.args.Limit(limit)
		d.args.StartWriting()
		n, rerr := d.args.WriteFrom(d.src)
		d.args.FinishWriting()
		d.remaining -= int64(n)
		if n == 0 {
			switch {
			case rerr == nil:
				rerr = io.ErrNoProgress
			case errors.Is(rerr, io.EOF):
				rerr = io.ErrUnexpectedEOF
			}
			return false, sent, fmt.Errorf("read packet source: %w", rerr)
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return false, sent, fmt.Errorf("read packet source: %w", rerr)
		}
		return true, sent, nil
	}
}

func (d *SendDispatcher) popLocked() *protocol.SendPacket {
	for d.pending.Length() > 0 {
		p := d.pending.Remove().(*protocol.SendPacket)
		if !p.Canceled() {
			return p
		}
	}
	return nil
}

func (d *SendDispatcher) finishLocked(sent []*protocol.SendPacket) []*protocol.SendPacket {
	p := d.current
	if err := p.Close(); err != nil {
		d.log.WithError(err).Debug("close packet source")
	}
	d.current = nil
	d.src = nil
	d.header = nil
	d.state = SendIdle
	d.lastActivity.Store(time.Now().UnixNano())
	d.metrics.FrameSent(p.Type.String())
	if p.Canceled() {
		return sent
	}
	return append(sent, p)
}

func (d *SendDispatcher) shutdown(cause error, notify bool) {
	d.mu.Lock()
	if d.state == SendClosed {
		d.mu.Unlock()
		return
	}
	d.state = SendClosed
	cur := d.current
	d.current = nil
	d.src = nil
	dropped := d.pending
	d.pending = queue.New()
	d.mu.Unlock()

	if cur != nil {
		_ = cur.Close()
	}
	n := dropped.Length()
	for dropped.Length() > 0 {
		_ = dropped.Remove().(*protocol.SendPacket).Close()
	}
	if notify {
		d.log.WithError(cause).WithField("dropped", n).Debug("send stopped")
		if d.cb.OnClose != nil {
			d.cb.OnClose(cause)
		}
	}
}
