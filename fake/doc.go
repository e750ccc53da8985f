// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the core interfaces:
// an in-memory Channel pair with configurable short reads and writes, and
// a Provider that drives readiness for those channels without epoll.
package fake
