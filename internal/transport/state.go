package transport

import "fmt"

// State is the lifecycle state of a Transport.
type State int32

const (
	// StateNotStarted is the initial state.
	StateNotStarted State = iota
	// StateStarting covers spawn and handshake.
	StateStarting
	// StateReady is the only state that accepts calls.
	StateReady
	// StateDegraded means the child died while the transport was live.
	StateDegraded
	// StateStopped is entered by Shutdown or a failed Start.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
