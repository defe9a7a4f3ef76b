package process

import (
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Supervisor spawns child processes and tracks them until they exit.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool
	wg     sync.WaitGroup

	logger        zerolog.Logger
	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger zerolog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithProcessExitCallback sets a callback run after a tracked process exits.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "process").Logger()
	return s
}

// Spawn launches spec as a tracked child with all three standard streams
// piped. A missing or unlaunchable executable yields a *SpawnError.
func (s *Supervisor) Spawn(name string, spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, &SpawnError{Command: spec.Command, Err: ErrEmptyCommand}
	}
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Env = spec.environ()
	cmd.Dir = spec.Dir

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	proc := newProcess(uuid.NewString(), name, cmd)
	if err := proc.start(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	s.processes[proc.ID] = proc
	s.wg.Add(1)
	go s.monitorProcess(proc)

	s.logger.Debug().
		Str("name", name).
		Str("id", proc.ID).
		Int("pid", proc.PID()).
		Str("command", path).
		Strs("args", spec.Args).
		Msg("process started")

	return proc, nil
}

// monitorProcess waits for exit, runs the callback and stops tracking.
func (s *Supervisor) monitorProcess(proc *Process) {
	defer s.wg.Done()
	<-proc.Done()

	s.logger.Debug().
		Str("name", proc.Name).
		Str("id", proc.ID).
		Int("exit_code", proc.ExitCode()).
		Stringer("state", proc.State()).
		Msg("process exited")

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Interface("panic", r).Str("id", proc.ID).Msg("process exit callback panicked")
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a tracked process by id, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// Shutdown terminates every tracked process in parallel with the given grace
// period and blocks until all of them have been reaped. Later Spawn calls
// fail with ErrSupervisorShutdown.
func (s *Supervisor) Shutdown(grace time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)
	for _, p := range s.List() {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			t := Terminate(p, grace)
			if !t.OK() {
				failed.Store(true)
				s.logger.Warn().Err(t.Err).Str("id", p.ID).Int("pid", p.PID()).Msg("process did not terminate")
				return
			}
			s.logger.Debug().Str("id", p.ID).Stringer("outcome", t.Outcome).Msg("process terminated")
		}(p)
	}
	wg.Wait()

	// Monitors remove processes from the map before finishing. A process
	// that survived the kill would keep its monitor blocked forever.
	if !failed.Load() {
		s.wg.Wait()
	}
}
