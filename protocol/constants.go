// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants for length-prefixed packet frames.

package protocol

// PacketType tags a frame payload and selects how the receiver
// materializes it.
type PacketType byte

const (
	TypeMemoryBytes  PacketType = 1
	TypeMemoryString PacketType = 2
	TypeStreamFile   PacketType = 3
	TypeStreamDirect PacketType = 4

	// TypeHeartbeat is reserved for the heartbeat sentinel frame.
	TypeHeartbeat PacketType = 0xFF
)

const (
	// LengthFieldSize is the width of the big-endian payload length.
	LengthFieldSize = 4
	// FixedHeaderSize covers length, type and header-length bytes.
	FixedHeaderSize = LengthFieldSize + 2
	// MaxHeaderInfoLen bounds type-specific header bytes.
	MaxHeaderInfoLen = 255
	// DefaultMaxFrameLength caps the declared payload length.
	DefaultMaxFrameLength = 1 << 30
)

// Valid reports whether t is a data packet type.
func (t PacketType) Valid() bool {
	return t >= TypeMemoryBytes && t <= TypeStreamDirect
}

func (t PacketType) String() string {
	switch t {
	case TypeMemoryBytes:
		return "bytes"
	case TypeMemoryString:
		return "string"
	case TypeStreamFile:
		return "file"
	case TypeStreamDirect:
		return "direct"
	case TypeHeartbeat:
		return "heartbeat"
	}
	return "unknown"
}
