package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Spec holds the launch parameters of a child. They are passed through
// without interpretation.
type Spec struct {
	Command string
	Args    []string

	// Env entries override the inherited environment.
	Env map[string]string

	// Dir is the working directory; empty means the current one.
	Dir string
}

// environ returns os.Environ() with the overrides appended in sorted key
// order. exec.Cmd keeps the last value for duplicate keys.
func (s Spec) environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Process is a managed child process. It is safe for concurrent use.
type Process struct {
	// ID is the unique identifier assigned by the supervisor.
	ID string

	// Name is a human-readable name for logs.
	Name string

	// Stdin is the write side of the child's standard input.
	Stdin io.WriteCloser

	// Stdout and Stderr are the read sides of the child's output streams.
	// They reach EOF once the child (and anything it forked) has exited.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}

	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	waitOnce sync.Once
}

func newProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 if the process has not exited or was
// killed by a signal.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error reported by Wait, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsAlive reports whether the process is running. It never blocks.
func (p *Process) IsAlive() bool {
	return p.State() == StateRunning
}

// HasExited reports whether the process has exited (normally or killed).
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the OS process id, or -1 if not started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Signal sends a signal to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsAlive() || p.cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return p.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// CloseStdin closes the child's standard input. Closing twice is harmless.
func (p *Process) CloseStdin() error {
	if p.Stdin == nil {
		return nil
	}
	if err := p.Stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// start wires the pipes and launches the command.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	p.cmd.Stdout = stdoutW
	p.cmd.Stderr = stderrW

	if err := p.cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return err
	}

	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	p.Stdin = stdin
	p.Stdout = stdoutR
	p.Stderr = stderrR
	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()
	return nil
}

// waitLoop waits for the process to exit and records how it ended.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Close releases the I/O handles. It does not stop the process.
func (p *Process) Close() error {
	var errs []error
	if err := p.CloseStdin(); err != nil {
		errs = append(errs, fmt.Errorf("close stdin: %w", err))
	}
	for name, c := range map[string]io.Closer{"stdout": p.Stdout, "stderr": p.Stderr} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Runtime returns how long the process has been (or was) running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
