// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hiolink/api"
	"go.uber.org/atomic"
)

// Provider implements api.IoProvider for fake Channels. One goroutine
// evaluates readiness and runs callbacks in order, so tests are
// deterministic per channel. Writes are always ready.
type Provider struct {
	mu     sync.Mutex
	regs   map[*Channel]*fakeReg
	closed bool
	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}

	failures atomic.Int64
}

type fakeReg struct {
	onRead  api.ReadyFunc
	onWrite api.ReadyFunc
}

var _ api.IoProvider = (*Provider)(nil)

// NewProvider starts the readiness goroutine.
func NewProvider() *Provider {
	p := &Provider{
		regs: make(map[*Channel]*fakeReg),
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Provider) Register(ch api.Channel, interest api.Interest, onReady api.ReadyFunc) error {
	c, ok := ch.(*Channel)
	if !ok || onReady == nil || interest == 0 {
		return fmt.Errorf("%w: fake provider needs *fake.Channel", api.ErrInvalidArgument)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return api.ErrProviderClosed
	}
	r, ok := p.regs[c]
	if !ok {
		r = &fakeReg{}
		p.regs[c] = r
		c.watch(p.poke)
	}
	if interest.Has(api.InterestRead) {
		r.onRead = onReady
	}
	if interest.Has(api.InterestWrite) {
		r.onWrite = onReady
	}
	p.mu.Unlock()
	p.poke()
	return nil
}

func (p *Provider) Unregister(ch api.Channel) error {
	c, ok := ch.(*Channel)
	if !ok {
		return api.ErrNotRegistered
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.regs[c]; !ok {
		return api.ErrNotRegistered
	}
	delete(p.regs, c)
	return nil
}

// Failures returns the number of failed callbacks.
func (p *Provider) Failures() int64 { return p.failures.Load() }

func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.regs = make(map[*Channel]*fakeReg)
	p.mu.Unlock()
	close(p.stop)
	<-p.done
	return nil
}

func (p *Provider) poke() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Provider) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.kick:
		}
		for p.fire() {
			select {
			case <-p.stop:
				return
			default:
			}
		}
	}
}

// fire runs every ready callback once and reports whether any ran.
func (p *Provider) fire() bool {
	type call struct {
		c  *Channel
		fn api.ReadyFunc
	}
	var calls []call
	p.mu.Lock()
	for c, r := range p.regs {
		if r.onRead != nil && c.readable() {
			calls = append(calls, call{c, r.onRead})
			r.onRead = nil
		}
		if r.onWrite != nil {
			calls = append(calls, call{c, r.onWrite})
			r.onWrite = nil
		}
	}
	p.mu.Unlock()

	for _, cl := range calls {
		p.mu.Lock()
		_, live := p.regs[cl.c]
		p.mu.Unlock()
		if !live {
			continue
		}
		p.run(cl.fn)
	}
	return len(calls) > 0
}

func (p *Provider) run(fn api.ReadyFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.failures.Inc()
		}
	}()
	if err := fn(); err != nil {
		p.failures.Inc()
	}
}
