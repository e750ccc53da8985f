// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness multiplexers used to drive
// non-blocking channels across a small set of polling goroutines.

package api

// Interest selects which readiness a registration waits for.
type Interest uint8

const (
	// InterestRead fires when the channel can be read without blocking.
	InterestRead Interest = 1 << iota
	// InterestWrite fires when the channel can be written without blocking.
	InterestWrite
)

// Has reports whether all bits of o are set in i.
func (i Interest) Has(o Interest) bool { return i&o == o }

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestRead | InterestWrite:
		return "read|write"
	}
	return "none"
}

// ReadyFunc is invoked on a worker goroutine once the registered readiness
// is observed. A returned error or a panic counts as a callback failure.
type ReadyFunc func() error

// IoProvider multiplexes readiness for many channels.
//
// Registrations are one-shot: after onReady fires for an interest, that
// interest is disarmed until Register is called again for it.
type IoProvider interface {
	// Register arms interest for ch. A failed registration leaves nothing
	// armed for that interest.
	Register(ch Channel, interest Interest, onReady ReadyFunc) error

	// Unregister disarms every interest of ch. Once it returns no new
	// callback for ch starts; one already running may still finish.
	Unregister(ch Channel) error

	// Close stops polling goroutines and releases selectors.
	Close() error
}
