package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for the process package.
var (
	// ErrProcessNotStarted is returned when an operation needs a running process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when starting a process twice.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrSupervisorShutdown is returned by Spawn after Shutdown has begun.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrKillTimeout is reported when a killed process never signals exit.
	ErrKillTimeout = errors.New("process did not exit after kill")

	// ErrEmptyCommand is wrapped in a SpawnError when Spec.Command is blank.
	ErrEmptyCommand = errors.New("empty command")
)

// SpawnError reports that a child could not be located or launched.
type SpawnError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause (for example exec.ErrNotFound).
func (e *SpawnError) Unwrap() error {
	return e.Err
}
