// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides readiness multiplexers (api.IoProvider) over
// epoll: a dual-selector provider with separate read and write pollers, a
// single-selector provider, and a work-stealing provider that spreads
// channels over N selectors whose idle workers take over queued readiness
// work from saturated ones.
//
// Readiness callbacks never run on a polling goroutine, and callbacks of
// one channel never run concurrently.
package reactor
