// File: connector/idle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connector

import (
	"sync"
	"time"

	"github.com/momentics/hiolink/api"
	"go.uber.org/atomic"
)

// minIdleCheck bounds how often the idle job wakes up.
const minIdleCheck = time.Millisecond

// IdleTimeoutJob keeps a quiet connection alive and detects a dead peer.
// After idle without peer traffic it sends one heartbeat per quiet period;
// after peer without traffic it closes the Connector with
// api.ErrPeerTimeout.
type IdleTimeoutJob struct {
	c    *Connector
	idle time.Duration
	peer time.Duration

	mu       sync.Mutex
	beatFor  time.Time
	sent     atomic.Int32
	timedOut atomic.Bool
}

// NewIdleTimeoutJob builds the job. A non-positive peer defaults to three
// idle windows.
func NewIdleTimeoutJob(c *Connector, idle, peer time.Duration) *IdleTimeoutJob {
	if peer <= idle {
		peer = 3 * idle
	}
	return &IdleTimeoutJob{c: c, idle: idle, peer: peer}
}

// Period is the check interval.
func (j *IdleTimeoutJob) Period() time.Duration {
	p := j.idle / 4
	if p < minIdleCheck {
		p = minIdleCheck
	}
	return p
}

// Heartbeats returns how many heartbeats the job sent.
func (j *IdleTimeoutJob) Heartbeats() int { return int(j.sent.Load()) }

// TimedOut reports whether the job closed the Connector.
func (j *IdleTimeoutJob) TimedOut() bool { return j.timedOut.Load() }

// Run performs one check.
func (j *IdleTimeoutJob) Run() {
	if j.c.State() != StateActive {
		return
	}
	last := j.c.LastActivity()
	quiet := time.Since(last)
	if quiet >= j.peer {
		j.timedOut.Store(true)
		j.c.log.WithField("quiet", quiet.String()).Warn("peer timeout")
		_ = j.c.CloseWithError(api.ErrPeerTimeout)
		return
	}
	if quiet < j.idle {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.beatFor.Equal(last) {
		return
	}
	if j.c.SendHeartbeat() {
		j.beatFor = last
		j.sent.Inc()
	}
}
