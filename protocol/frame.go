// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame header encoding and decoding.
//
//	[4-byte BE payload length][1-byte type][1-byte header-length][header][payload]
//
// The heartbeat sentinel is a bare fixed header with length 0 and
// TypeHeartbeat.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hiolink/api"
)

// FrameHeader describes one frame before its payload.
type FrameHeader struct {
	Length uint32
	Type   PacketType
	Info   []byte
}

// Size returns the encoded header size including Info.
func (h FrameHeader) Size() int { return FixedHeaderSize + len(h.Info) }

// IsHeartbeat reports whether h is the heartbeat sentinel.
func (h FrameHeader) IsHeartbeat() bool {
	return h.Type == TypeHeartbeat && h.Length == 0 && len(h.Info) == 0
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h FrameHeader) []byte {
	var fixed [FixedHeaderSize]byte
	binary.BigEndian.PutUint32(fixed[:LengthFieldSize], h.Length)
	fixed[4] = byte(h.Type)
	fixed[5] = byte(len(h.Info))
	dst = append(dst, fixed[:]...)
	return append(dst, h.Info...)
}

// EncodeHeader returns the encoded header.
func EncodeHeader(h FrameHeader) []byte {
	return AppendHeader(make([]byte, 0, h.Size()), h)
}

var heartbeatFrame = EncodeHeader(FrameHeader{Type: TypeHeartbeat})

// HeartbeatFrame returns a fresh copy of the heartbeat sentinel bytes.
func HeartbeatFrame() []byte {
	return append([]byte(nil), heartbeatFrame...)
}

// ParseFixedHeader decodes the fixed part of a header. b must hold at
// least FixedHeaderSize bytes.
func ParseFixedHeader(b []byte) (length uint32, t PacketType, infoLen int) {
	_ = b[FixedHeaderSize-1]
	return binary.BigEndian.Uint32(b[:LengthFieldSize]), PacketType(b[4]), int(b[5])
}

// ValidateHeader checks a decoded fixed header against protocol rules.
// Violations are fatal for the connection; the stream is never resynced.
func ValidateHeader(length uint32, t PacketType, infoLen int, maxLength uint32) error {
	if t == TypeHeartbeat {
		if length != 0 || infoLen != 0 {
			return api.WrapError(api.ErrCodeFraming, api.ErrFraming).
				WithContext("reason", "heartbeat with body")
		}
		return nil
	}
	if !t.Valid() {
		return api.WrapError(api.ErrCodeFraming, api.ErrUnknownPacketType).
			WithContext("type", byte(t))
	}
	if maxLength > 0 && length > maxLength {
		return api.WrapError(api.ErrCodeFraming, api.ErrFrameTooLarge).
			WithContext("length", length).WithContext("max", maxLength)
	}
	return nil
}

func headerFor(t PacketType, length int64, info []byte) (FrameHeader, error) {
	if length < 0 || length > int64(^uint32(0)) {
		return FrameHeader{}, fmt.Errorf("%w: packet length %d", api.ErrInvalidArgument, length)
	}
	if len(info) > MaxHeaderInfoLen {
		return FrameHeader{}, fmt.Errorf("%w: header info %d bytes", api.ErrInvalidArgument, len(info))
	}
	return FrameHeader{Length: uint32(length), Type: t, Info: info}, nil
}
