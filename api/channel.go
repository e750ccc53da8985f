// File: api/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "github.com/momentics/hiolink/core/buffer"

// Channel is a non-blocking byte stream backed by a pollable descriptor.
//
// Read and Write return (0, nil) when the operation would block. Read
// returns io.EOF once the peer has closed its side.
type Channel interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

// IoCompletion is called exactly once per posted operation, with the args
// that were posted. err is nil on success.
type IoCompletion func(args *buffer.IoArgs, err error)

// Sender submits one IoArgs at a time for asynchronous transmission.
// args must be in the readable phase. done fires after the whole readable
// window has been written or the write failed.
type Sender interface {
	PostSend(args *buffer.IoArgs, done IoCompletion) error
	Close() error
}

// Receiver submits one IoArgs at a time for asynchronous reception.
// args must be in the writing phase. done fires after at least one byte
// has been read, or the read failed; the receiver does not call FinishWriting.
type Receiver interface {
	PostReceive(args *buffer.IoArgs, done IoCompletion) error
	Close() error
}
