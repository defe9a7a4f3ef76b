package process

import (
	"fmt"
	"time"
)

// Outcome says how a Terminate call ended.
type Outcome int

const (
	// OutcomeExited means the child exited within the grace period.
	OutcomeExited Outcome = iota
	// OutcomeKilled means the child outlived the grace period and was killed.
	OutcomeKilled
	// OutcomeAlreadyExited means the child was gone before Terminate ran.
	OutcomeAlreadyExited
	// OutcomeFailed means the child could not be confirmed dead.
	OutcomeFailed
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeExited:
		return "exited"
	case OutcomeKilled:
		return "killed"
	case OutcomeAlreadyExited:
		return "already-exited"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// Termination is the typed result of Terminate.
type Termination struct {
	Outcome  Outcome
	ExitCode int
	Err      error
}

// OK reports whether the child is known to be gone.
func (t Termination) OK() bool {
	return t.Outcome != OutcomeFailed
}

// KillWait bounds how long Terminate waits for a killed child to be reaped.
var KillWait = 5 * time.Second

// Terminate stops p in two phases: it closes stdin and waits up to grace for
// a natural exit, then kills the process. A non-positive grace kills at once.
func Terminate(p *Process, grace time.Duration) Termination {
	if p == nil || p.State() == StateCreated {
		return Termination{Outcome: OutcomeFailed, ExitCode: -1, Err: ErrProcessNotStarted}
	}
	if p.HasExited() {
		return Termination{Outcome: OutcomeAlreadyExited, ExitCode: p.ExitCode()}
	}

	_ = p.CloseStdin()

	if grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-p.Done():
			timer.Stop()
			return Termination{Outcome: OutcomeExited, ExitCode: p.ExitCode()}
		case <-timer.C:
		}
	}

	killErr := p.Kill()

	timer := time.NewTimer(KillWait)
	defer timer.Stop()
	select {
	case <-p.Done():
		if killErr != nil {
			// Exited between the grace timeout and the kill.
			return Termination{Outcome: OutcomeExited, ExitCode: p.ExitCode()}
		}
		return Termination{Outcome: OutcomeKilled, ExitCode: p.ExitCode()}
	case <-timer.C:
		err := ErrKillTimeout
		if killErr != nil {
			err = fmt.Errorf("%w: %v", ErrKillTimeout, killErr)
		}
		return Termination{Outcome: OutcomeFailed, ExitCode: -1, Err: err}
	}
}
