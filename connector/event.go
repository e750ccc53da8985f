// File: connector/event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connector

import "github.com/momentics/hiolink/protocol"

// EventKind tags an Event.
type EventKind int

const (
	// EventPacket carries a completed packet no handler consumed.
	EventPacket EventKind = iota
	// EventHeartbeat reports a heartbeat frame from the peer.
	EventHeartbeat
	// EventPacketFailed carries a packet abandoned mid-body; Err holds why.
	EventPacketFailed
	// EventClosed is the last event; Err holds the close cause.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventPacket:
		return "packet"
	case EventHeartbeat:
		return "heartbeat"
	case EventPacketFailed:
		return "packet-failed"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is published on Connector.Events.
type Event struct {
	Kind   EventKind
	Packet *protocol.ReceivePacket
	Err    error
}
