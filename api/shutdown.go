// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components owning goroutines or
// descriptors that must be released together.
type GracefulShutdown interface {
	Shutdown() error
}
