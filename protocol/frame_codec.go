// File: protocol/frame_codec.go
// Package protocol implements a blocking frame codec over io streams.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The dispatchers assemble frames incrementally; this codec is the
// reference encoder/decoder used by tools and tests that own a plain
// io.Reader or io.Writer.

package protocol

import (
	"fmt"
	"io"
)

// WriteFrame encodes a whole frame to w.
func WriteFrame(w io.Writer, t PacketType, info, payload []byte) error {
	h, err := headerFor(t, int64(len(payload)), info)
	if err != nil {
		return err
	}
	buf := AppendHeader(make([]byte, 0, h.Size()+len(payload)), h)
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return err
}

// ReadFrame decodes one frame from r. Heartbeats are returned with an
// empty payload and h.IsHeartbeat() == true.
func ReadFrame(r io.Reader, maxLength uint32) (FrameHeader, []byte, error) {
	var fixed [FixedHeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return FrameHeader{}, nil, err
	}
	length, t, infoLen := ParseFixedHeader(fixed[:])
	if err := ValidateHeader(length, t, infoLen, maxLength); err != nil {
		return FrameHeader{}, nil, err
	}
	h := FrameHeader{Length: length, Type: t}
	if infoLen > 0 {
		h.Info = make([]byte, infoLen)
		if _, err := io.ReadFull(r, h.Info); err != nil {
			return h, nil, fmt.Errorf("read header info: %w", err)
		}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, fmt.Errorf("read payload: %w", err)
	}
	return h, payload, nil
}
