// Package api
// Author: momentics@gmail.com
//
// Cancellation handle for scheduled work.

package api

// Cancelable is any operation that may be canceled.
type Cancelable interface {
	// Cancel suppresses future firings. A run already in progress is not
	// interrupted. Calling Cancel more than once is a no-op.
	Cancel() error
	// Done is closed once the operation is cancelled or has fired for the
	// last time.
	Done() <-chan struct{}
}
