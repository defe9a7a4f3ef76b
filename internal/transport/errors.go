package transport

import (
	"errors"
	"fmt"
)

// Errors returned by Transport operations. Remote failures are returned as
// *jsonrpc.Error values instead.
var (
	// ErrNotReady indicates a call was attempted while the transport is not
	// Ready or its child has died.
	ErrNotReady = errors.New("transport not ready")

	// ErrTransportClosed indicates the transport was shut down, or the child
	// went away while the call was pending.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTimeout indicates no reply arrived within the call timeout. The
	// request may still run in the child.
	ErrTimeout = errors.New("request timed out")

	// ErrDuplicateID indicates a request id collided with a pending one.
	ErrDuplicateID = errors.New("duplicate request id")

	// ErrAlreadyStarted indicates Start was called on a live transport.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrNeverStarted indicates Restart was called before any Start.
	ErrNeverStarted = errors.New("transport never started")
)

// Phase names the step of Start that failed.
type Phase string

const (
	PhaseSpawn     Phase = "spawn"
	PhaseHandshake Phase = "handshake"
)

// StartError reports a failed Start. The transport is Stopped afterwards.
type StartError struct {
	Phase Phase
	Err   error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("start transport (%s): %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartError) Unwrap() error {
	return e.Err
}
