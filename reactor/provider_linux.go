//go:build linux
// +build linux

// File: reactor/provider_linux.go
// Author: momentics <momentics@gmail.com>
//
// epoll-backed api.IoProvider with dual, single and work-stealing layouts.

package reactor

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/control"
	"github.com/momentics/hiolink/internal/concurrency"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Provider multiplexes channel readiness over one or more epoll selectors.
type Provider struct {
	strategy string

	// mu guards regs, owners, loads and every registration's arming state.
	mu     sync.Mutex
	regs   map[int]*registration
	owners map[api.Channel]*owner
	loads  []int
	loops  []*selector

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	// route picks the selector serving interest bit of reg.
	route func(reg *registration, bit api.Interest) int
	// submit hands a serial drain to the worker pool of selector home.
	submit func(home int, task func()) error

	exec   *concurrency.Executor
	stealQ *runQueues

	maxFailures int
	log         logrus.FieldLogger
	metrics     *control.Metrics

	events    atomic.Int64
	steals    atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

var _ api.IoProvider = (*Provider)(nil)

// owner serializes the callbacks of one channel. It outlives a single
// registration: a channel unregistered and registered again while a
// callback still runs keeps its queue until the queue is empty.
type owner struct {
	ch     api.Channel
	home   int
	live   bool
	serial *concurrency.SerialQueue
}

type registration struct {
	ch   api.Channel
	fd   int
	home int
	own  *owner

	// per selector arming state
	added []bool
	armed []api.Interest

	onRead  api.ReadyFunc
	onWrite api.ReadyFunc

	failures atomic.Int32
	gone     atomic.Bool
}

// NewDualProvider polls reads and writes on two separate selectors.
// Callbacks run on a shared bounded worker pool.
func NewDualProvider(opts Options) (*Provider, error) {
	p, err := newProvider(StrategyDual, 2, opts)
	if err != nil {
		return nil, err
	}
	p.route = func(_ *registration, bit api.Interest) int {
		if bit == api.InterestRead {
			return 0
		}
		return 1
	}
	p.useExecutor(opts)
	p.start()
	return p, nil
}

// NewSingleProvider polls both interests on one selector. The interest mask
// of a descriptor is merged, and the part that did not fire is re-armed.
func NewSingleProvider(opts Options) (*Provider, error) {
	p, err := newProvider(StrategySingle, 1, opts)
	if err != nil {
		return nil, err
	}
	p.route = func(*registration, api.Interest) int { return 0 }
	p.useExecutor(opts)
	p.start()
	return p, nil
}

// NewStealingProvider spreads channels over n selectors, each with its own
// worker and run queue. A new channel goes to the selector with the fewest
// registered channels, ties resolved to the lowest index. Idle workers
// steal queued readiness work from the longest queue.
func NewStealingProvider(n int, opts Options) (*Provider, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: selector count %d", api.ErrInvalidArgument, n)
	}
	p, err := newProvider(StrategyStealing, n, opts)
	if err != nil {
		return nil, err
	}
	p.route = func(reg *registration, _ api.Interest) int { return reg.home }
	p.stealQ = newRunQueues(n, p.log, func(k int) {
		p.steals.Add(int64(k))
		p.metrics.Steal(k)
	})
	p.submit = func(home int, task func()) error {
		return p.stealQ.push(home, task)
	}
	p.start()
	return p, nil
}

func newProvider(strategy string, n int, opts Options) (*Provider, error) {
	p := &Provider{
		strategy:    strategy,
		regs:        make(map[int]*registration),
		owners:      make(map[api.Channel]*owner),
		loads:       make([]int, n),
		maxFailures: opts.maxFailures(),
		log:         opts.logger(strategy),
		metrics:     opts.Metrics,
	}
	for i := 0; i < n; i++ {
		sel, err := newSelector()
		if err != nil {
			for _, s := range p.loops {
				_ = s.close()
			}
			return nil, err
		}
		p.loops = append(p.loops, sel)
	}
	return p, nil
}

func (p *Provider) useExecutor(opts Options) {
	p.exec = concurrency.NewExecutor("provider-"+p.strategy, opts.Workers, opts.QueueSize, p.log)
	p.submit = func(_ int, task func()) error {
		return p.exec.Submit(task)
	}
}

func (p *Provider) start() {
	p.wg.Add(len(p.loops))
	for i := range p.loops {
		go p.poll(i)
	}
	p.log.WithField("selectors", len(p.loops)).Debug("provider started")
}

// Strategy returns the provider layout name.
func (p *Provider) Strategy() string { return p.strategy }

// Register arms interest for ch. It may be called again, from inside a
// callback too, to re-arm after a one-shot event.
func (p *Provider) Register(ch api.Channel, interest api.Interest, onReady api.ReadyFunc) error {
	if ch == nil || onReady == nil || interest == 0 || interest&^(api.InterestRead|api.InterestWrite) != 0 {
		return api.ErrInvalidArgument
	}
	fd := ch.Fd()
	if fd < 0 {
		return fmt.Errorf("%w: negative fd", api.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return api.ErrProviderClosed
	}

	reg, exists := p.regs[fd]
	if exists && reg.ch != ch {
		return fmt.Errorf("%w: fd %d", api.ErrAlreadyRegistered, fd)
	}
	if !exists {
		reg = p.newRegistration(ch, fd)
	}

	// Arm each requested bit on its selector; undo on failure.
	type undo struct {
		idx   int
		added bool
		armed api.Interest
	}
	var done []undo
	for _, bit := range []api.Interest{api.InterestRead, api.InterestWrite} {
		if !interest.Has(bit) {
			continue
		}
		idx := p.route(reg, bit)
		prev := undo{idx: idx, added: reg.added[idx], armed: reg.armed[idx]}
		mask := reg.armed[idx] | bit
		if err := p.loops[idx].arm(fd, mask, !reg.added[idx]); err != nil {
			for k := len(done) - 1; k >= 0; k-- {
				u := done[k]
				if u.added {
					_ = p.loops[u.idx].arm(fd, u.armed, false)
				} else {
					_ = p.loops[u.idx].remove(fd)
				}
				reg.added[u.idx], reg.armed[u.idx] = u.added, u.armed
			}
			if !exists {
				p.retireLocked(reg.own)
			}
			return fmt.Errorf("register fd %d for %s: %w", fd, bit, err)
		}
		done = append(done, prev)
		reg.added[idx] = true
		reg.armed[idx] = mask
	}

	if interest.Has(api.InterestRead) {
		reg.onRead = onReady
	}
	if interest.Has(api.InterestWrite) {
		reg.onWrite = onReady
	}
	if !exists {
		p.regs[fd] = reg
		p.trackLoad(reg, +1)
	}
	return nil
}

func (p *Provider) newRegistration(ch api.Channel, fd int) *registration {
	n := len(p.loops)
	reg := &registration{
		ch:    ch,
		fd:    fd,
		added: make([]bool, n),
		armed: make([]api.Interest, n),
	}
	o, ok := p.owners[ch]
	if !ok {
		o = &owner{ch: ch}
		if p.strategy == StrategyStealing {
			o.home = p.leastLoaded()
		}
		o.serial = concurrency.NewSerialQueue(func(task func()) error {
			return p.submit(o.home, task)
		})
		o.serial.OnPanic = func(r any) {
			p.log.WithField("fd", fd).Errorf("readiness task panic: %v", r)
		}
		o.serial.OnIdle = func() { p.release(o) }
		p.owners[ch] = o
	}
	o.live = true
	reg.own = o
	reg.home = o.home
	return reg
}

// retireLocked marks o unregistered and forgets it unless a drain is still
// scheduled or running. Caller holds p.mu.
func (p *Provider) retireLocked(o *owner) {
	o.live = false
	if !o.serial.Active() && p.owners[o.ch] == o {
		delete(p.owners, o.ch)
	}
}

// release forgets an owner whose channel is no longer registered once its
// drain stopped.
func (p *Provider) release(o *owner) {
	p.mu.Lock()
	if !o.live && !o.serial.Active() && p.owners[o.ch] == o {
		delete(p.owners, o.ch)
	}
	p.mu.Unlock()
}

// leastLoaded returns the selector with the fewest channels, lowest index
// first among equals. Caller holds p.mu.
func (p *Provider) leastLoaded() int {
	best := 0
	for i, n := range p.loads {
		if n < p.loads[best] {
			best = i
		}
	}
	return best
}

// trackLoad adjusts per-selector counts. A dual registration counts on both
// selectors. Caller holds p.mu.
func (p *Provider) trackLoad(reg *registration, delta int) {
	switch p.strategy {
	case StrategyStealing:
		p.loads[reg.home] += delta
	default:
		for i := range p.loads {
			p.loads[i] += delta
		}
	}
	for i, n := range p.loads {
		p.metrics.SetRegistered(strconv.Itoa(i), n)
	}
}

// Unregister disarms ch on every selector. Callbacks queued but not yet
// started for ch are skipped.
func (p *Provider) Unregister(ch api.Channel) error {
	if ch == nil {
		return api.ErrInvalidArgument
	}
	fd := ch.Fd()
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[fd]
	if !ok || reg.ch != ch {
		return api.ErrNotRegistered
	}
	p.dropLocked(reg)
	return nil
}

func (p *Provider) dropLocked(reg *registration) {
	for i, added := range reg.added {
		if added {
			if err := p.loops[i].remove(reg.fd); err != nil {
				p.log.WithField("fd", reg.fd).WithError(err).Debug("epoll remove failed")
			}
			reg.added[i], reg.armed[i] = false, 0
		}
	}
	reg.onRead, reg.onWrite = nil, nil
	reg.gone.Store(true)
	p.retireLocked(reg.own)
	delete(p.regs, reg.fd)
	p.trackLoad(reg, -1)
}

// Stats reports counters and per-selector load.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	load := append([]int(nil), p.loads...)
	p.mu.Unlock()
	return Stats{
		Strategy:  p.strategy,
		Load:      load,
		Events:    p.events.Load(),
		Steals:    p.steals.Load(),
		Failures:  p.failures.Load(),
		Evictions: p.evictions.Load(),
	}
}

// Close stops the pollers and workers. It must not be called from inside
// a readiness callback. Channels still registered are left open.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		for _, sel := range p.loops {
			sel.wakeup()
		}
		p.wg.Wait()

		p.mu.Lock()
		for _, reg := range p.regs {
			reg.gone.Store(true)
		}
		p.regs = make(map[int]*registration)
		p.owners = make(map[api.Channel]*owner)
		p.mu.Unlock()

		if p.exec != nil {
			p.exec.Close()
		}
		if p.stealQ != nil {
			p.stealQ.close()
		}
		for _, sel := range p.loops {
			_ = sel.close()
		}
		p.log.Debug("provider closed")
	})
	return nil
}

// poll is the selector goroutine. It only translates events into tasks.
func (p *Provider) poll(idx int) {
	defer p.wg.Done()
	sel := p.loops[idx]
	events := make([]unix.EpollEvent, maxEvents)
	type fired struct {
		reg *registration
		bit api.Interest
		cb  api.ReadyFunc
	}
	var batch []fired
	for {
		n, err := sel.wait(events)
		if p.closed.Load() {
			return
		}
		if err != nil {
			p.log.WithError(err).Error("selector wait failed")
			continue
		}

		batch = batch[:0]
		p.mu.Lock()
		for i := 0; i < n; i++ {
			ev := events[i]
			if sel.isWakeup(ev.Fd) {
				sel.drainWakeup()
				continue
			}
			reg, ok := p.regs[int(ev.Fd)]
			if !ok || !reg.added[idx] {
				continue
			}
			ready := readiness(ev.Events, reg.armed[idx])
			if ready == 0 {
				continue
			}
			rest := reg.armed[idx] &^ ready
			reg.armed[idx] = rest
			if rest != 0 {
				if err := sel.arm(reg.fd, rest, false); err != nil {
					p.log.WithField("fd", reg.fd).WithError(err).Warn("re-arm failed")
				}
			}
			if ready.Has(api.InterestRead) && reg.onRead != nil {
				batch = append(batch, fired{reg, api.InterestRead, reg.onRead})
				reg.onRead = nil
			}
			if ready.Has(api.InterestWrite) && reg.onWrite != nil {
				batch = append(batch, fired{reg, api.InterestWrite, reg.onWrite})
				reg.onWrite = nil
			}
		}
		p.mu.Unlock()

		for _, f := range batch {
			p.dispatch(f.reg, f.bit, f.cb)
		}
	}
}

func (p *Provider) dispatch(reg *registration, bit api.Interest, cb api.ReadyFunc) {
	p.events.Inc()
	p.metrics.ReadinessEvent(bit.String())
	err := reg.own.serial.Push(func() { p.invoke(reg, bit, cb) })
	if err != nil {
		p.log.WithFields(logrus.Fields{"fd": reg.fd, "interest": bit.String()}).
			WithError(err).Error("readiness dispatch refused, evicting channel")
		go p.evict(reg, err)
	}
}

// invoke runs one callback and applies the failure policy.
func (p *Provider) invoke(reg *registration, bit api.Interest, cb api.ReadyFunc) {
	if reg.gone.Load() {
		return
	}
	err := safeCall(cb)
	if err == nil {
		reg.failures.Store(0)
		return
	}
	p.failures.Inc()
	p.metrics.CallbackFailure()
	n := int(reg.failures.Inc())
	p.log.WithFields(logrus.Fields{
		"fd":       reg.fd,
		"interest": bit.String(),
		"failures": n,
	}).WithError(err).Warn("readiness callback failed")
	if n >= p.maxFailures {
		p.evict(reg, err)
	}
}

// evict unregisters and closes a channel whose callbacks keep failing.
func (p *Provider) evict(reg *registration, cause error) {
	p.mu.Lock()
	cur, ok := p.regs[reg.fd]
	if ok && cur == reg {
		p.dropLocked(reg)
	}
	p.mu.Unlock()
	if !ok || cur != reg {
		return
	}
	p.evictions.Inc()
	p.log.WithField("fd", reg.fd).WithError(cause).Error("channel evicted after repeated callback failures")
	if err := reg.ch.Close(); err != nil {
		p.log.WithField("fd", reg.fd).WithError(err).Debug("close evicted channel")
	}
}

func safeCall(cb api.ReadyFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", api.ErrCallbackFailed, r)
		}
	}()
	if err := cb(); err != nil {
		return fmt.Errorf("%w: %w", api.ErrCallbackFailed, err)
	}
	return nil
}
