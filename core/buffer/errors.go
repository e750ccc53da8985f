// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import "errors"

var (
	// ErrPhase marks IoArgs misuse: operations called out of write/read order.
	ErrPhase = errors.New("ioargs: phase violation")

	// ErrBufferFull is returned when a CircularBuffer cannot hold all input.
	ErrBufferFull = errors.New("circular buffer is full")
)
