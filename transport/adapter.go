// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// SocketAdapter implements api.Sender and api.Receiver for one channel by
// arming readiness on an api.IoProvider. At most one send and one receive
// may be posted at a time.
type SocketAdapter struct {
	ch       api.Channel
	provider api.IoProvider
	log      logrus.FieldLogger
	metrics  *control.Metrics

	closed    atomic.Bool
	sending   atomic.Bool
	receiving atomic.Bool

	// inflight counts readiness callbacks between entry and exit.
	inflight atomic.Int32
	relMu    sync.Mutex
	released []func()
}

var (
	_ api.Sender   = (*SocketAdapter)(nil)
	_ api.Receiver = (*SocketAdapter)(nil)
)

// ErrBusy is returned when an operation is posted while the previous one in
// the same direction is still pending.
var ErrBusy = errors.New("transport: operation already pending")

// NewSocketAdapter binds ch to provider.
func NewSocketAdapter(ch api.Channel, provider api.IoProvider, log logrus.FieldLogger, m *control.Metrics) *SocketAdapter {
	return &SocketAdapter{
		ch:       ch,
		provider: provider,
		log:      control.OrDiscard(log).WithField("remote", ch.RemoteAddr()),
		metrics:  m,
	}
}

// Channel returns the adapted channel.
func (a *SocketAdapter) Channel() api.Channel { return a.ch }

// PostReceive waits for readability and fills args. done fires once at
// least one byte was read, or with the read error (io.EOF included).
func (a *SocketAdapter) PostReceive(args *buffer.IoArgs, done api.IoCompletion) error {
	if a.closed.Load() {
		return api.ErrClosed
	}
	if args == nil || done == nil || !args.Writing() {
		return fmt.Errorf("%w: receive args must be in writing phase", api.ErrInvalidArgument)
	}
	if !a.receiving.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if err := a.armRead(args, done); err != nil {
		a.receiving.Store(false)
		return err
	}
	return nil
}

func (a *SocketAdapter) armRead(args *buffer.IoArgs, done api.IoCompletion) error {
	return a.provider.Register(a.ch, api.InterestRead, func() error {
		a.inflight.Inc()
		defer a.leave()
		if a.closed.Load() {
			return nil
		}
		n, err := args.WriteFrom(a.ch)
		a.metrics.BytesIn(n)
		if n > 0 && errors.Is(err, io.EOF) {
			// deliver the tail first; the next read reports EOF again
			err = nil
		}
		if err == nil && n == 0 {
			// spurious wakeup
			if rerr := a.armRead(args, done); rerr != nil {
				a.complete(&a.receiving, args, done, rerr)
			}
			return nil
		}
		a.complete(&a.receiving, args, done, err)
		return nil
	})
}

// PostSend waits for writability and drains the readable window of args
// into the channel. Partial writes are continued before done fires.
func (a *SocketAdapter) PostSend(args *buffer.IoArgs, done api.IoCompletion) error {
	if a.closed.Load() {
		return api.ErrClosed
	}
	if args == nil || done == nil || args.Writing() {
		return fmt.Errorf("%w: send args must be readable", api.ErrInvalidArgument)
	}
	if !a.sending.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if err := a.armWrite(args, done); err != nil {
		a.sending.Store(false)
		return err
	}
	return nil
}

func (a *SocketAdapter) armWrite(args *buffer.IoArgs, done api.IoCompletion) error {
	return a.provider.Register(a.ch, api.InterestWrite, func() error {
		a.inflight.Inc()
		defer a.leave()
		if a.closed.Load() {
			return nil
		}
		n, err := args.ReadTo(a.ch)
		a.metrics.BytesOut(n)
		if err == nil && args.Remained() > 0 {
			if rerr := a.armWrite(args, done); rerr != nil {
				a.complete(&a.sending, args, done, rerr)
			}
			return nil
		}
		a.complete(&a.sending, args, done, err)
		return nil
	})
}

func (a *SocketAdapter) complete(flag *atomic.Bool, args *buffer.IoArgs, done api.IoCompletion, err error) {
	flag.Store(false)
	if err != nil {
		a.log.WithError(err).Debug("channel operation failed")
	}
	done(args, err)
}

// Close disarms the channel. Pending operations never complete. The
// channel itself stays open. Safe to call more than once.
func (a *SocketAdapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer a.runReleased()
	if err := a.provider.Unregister(a.ch); err != nil && !errors.Is(err, api.ErrNotRegistered) &&
		!errors.Is(err, api.ErrProviderClosed) {
		return err
	}
	return nil
}

// Release runs fn once the adapter is closed and no readiness callback
// touches posted args any more. fn may run on the calling goroutine.
// Used to hand IoArgs back to their pool.
func (a *SocketAdapter) Release(fn func()) {
	a.relMu.Lock()
	a.released = append(a.released, fn)
	a.relMu.Unlock()
	a.runReleased()
}

func (a *SocketAdapter) leave() {
	if a.inflight.Dec() == 0 && a.closed.Load() {
		a.runReleased()
	}
}

func (a *SocketAdapter) runReleased() {
	a.relMu.Lock()
	if !a.closed.Load() || a.inflight.Load() != 0 {
		a.relMu.Unlock()
		return
	}
	fns := a.released
	a.released = nil
	a.relMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
