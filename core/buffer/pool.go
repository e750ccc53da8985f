// File: core/buffer/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"sync"

	"go.uber.org/atomic"
)

// DefaultIoArgsSize is the capacity used when a Pool is created with size <= 0.
const DefaultIoArgsSize = 256

// Pool recycles IoArgs of one fixed capacity. An IoArgs taken from the pool
// is owned by exactly one dispatcher until it is returned.
type Pool struct {
	size int
	objs sync.Pool
	out  atomic.Int64
}

// NewPool creates a pool handing out IoArgs of the given capacity.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultIoArgsSize
	}
	p := &Pool{size: size}
	p.objs.New = func() any { return NewIoArgs(size) }
	return p
}

// Size returns the capacity of pooled IoArgs.
func (p *Pool) Size() int { return p.size }

// Get returns an IoArgs in the readable phase with its limit reset.
func (p *Pool) Get() *IoArgs {
	a := p.objs.Get().(*IoArgs)
	p.out.Inc()
	a.reset()
	return a
}

// Put returns a to the pool. a must not be used afterwards.
func (p *Pool) Put(a *IoArgs) {
	if a == nil || a.Capacity() != p.size {
		return
	}
	p.out.Dec()
	p.objs.Put(a)
}

// Outstanding returns how many IoArgs were taken and not yet returned.
func (p *Pool) Outstanding() int64 { return p.out.Load() }
