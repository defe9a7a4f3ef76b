package mcp

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/transport"
)

// SupervisorState represents the state of a supervised server.
type SupervisorState int32

const (
	// SupervisorStateIdle means Start has not been called.
	SupervisorStateIdle SupervisorState = iota
	// SupervisorStateRunning means the server is running normally.
	SupervisorStateRunning
	// SupervisorStateRestarting means the server died and is being restarted.
	SupervisorStateRestarting
	// SupervisorStateFailed means the restart budget is exhausted.
	SupervisorStateFailed
	// SupervisorStateStopped means the supervisor was explicitly stopped.
	SupervisorStateStopped
)

// String returns a human-readable state name.
func (s SupervisorState) String() string {
	switch s {
	case SupervisorStateIdle:
		return "idle"
	case SupervisorStateRunning:
		return "running"
	case SupervisorStateRestarting:
		return "restarting"
	case SupervisorStateFailed:
		return "failed"
	case SupervisorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures crash recovery.
type SupervisorConfig struct {
	// MaxRestarts is the number of consecutive restart attempts before
	// giving up. Zero disables automatic restarts.
	MaxRestarts int

	// InitialBackoff is the delay before the first restart attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64

	// ResetWindow is how long the server must run before the restart
	// counter starts again from zero.
	ResetWindow time.Duration
}

// DefaultSupervisorConfig returns the default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		ResetWindow:       5 * time.Minute,
	}
}

// SupervisorEventType identifies the type of supervisor event.
type SupervisorEventType int

const (
	// SupervisorEventCrash indicates the server exited unexpectedly.
	SupervisorEventCrash SupervisorEventType = iota
	// SupervisorEventRestarting indicates a restart attempt is scheduled.
	SupervisorEventRestarting
	// SupervisorEventRecovered indicates the server is back.
	SupervisorEventRecovered
	// SupervisorEventFailed indicates the server has permanently failed.
	SupervisorEventFailed
)

// String returns a human-readable event type name.
func (t SupervisorEventType) String() string {
	switch t {
	case SupervisorEventCrash:
		return "crash"
	case SupervisorEventRestarting:
		return "restarting"
	case SupervisorEventRecovered:
		return "recovered"
	case SupervisorEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SupervisorEvent is emitted on crashes and recovery attempts.
type SupervisorEvent struct {
	Type      SupervisorEventType
	Server    string
	Err       error
	Attempt   int
	NextRetry time.Duration
}

// Status is a point-in-time view of a supervised server.
type Status struct {
	Server       string          `json:"server"`
	State        string          `json:"state"`
	Transport    string          `json:"transport"`
	Ready        bool            `json:"ready"`
	PID          int             `json:"pid"`
	Restarts     int             `json:"restarts"`
	LastStart    time.Time       `json:"last_start,omitzero"`
	PendingCalls int             `json:"pending_calls"`
	Tools        []string        `json:"tools"`
	Resources    int             `json:"resources"`
	Prompts      int             `json:"prompts"`
	ServerInfo   json.RawMessage `json:"server_info,omitempty"`
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger used by the supervisor, its transport and
// its client.
func WithLogger(logger zerolog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithTransportOptions passes extra options to the transport.
func WithTransportOptions(opts ...transport.Option) SupervisorOption {
	return func(s *Supervisor) {
		s.transportOpts = append(s.transportOpts, opts...)
	}
}

// WithClientOptions passes extra options to the client.
func WithClientOptions(opts ...ClientOption) SupervisorOption {
	return func(s *Supervisor) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// WithNotificationHandler receives every notification from the server,
// after the supervisor has handled list-changed notifications itself.
func WithNotificationHandler(h transport.NotificationHandler) SupervisorOption {
	return func(s *Supervisor) {
		s.onNotification = h
	}
}

// Supervisor runs one MCP server and recovers it from crashes with
// exponential backoff, re-running discovery after every (re)start.
//
// Thread Safety: Supervisor is safe for concurrent use. state is atomic;
// lifecycle serializes starts, restarts and generation changes; mu guards
// the counters.
type Supervisor struct {
	config         SupervisorConfig
	launch         transport.Launch
	logger         zerolog.Logger
	transportOpts  []transport.Option
	clientOpts     []ClientOption
	onNotification transport.NotificationHandler

	transport *transport.Transport
	client    *Client

	lifecycle  sync.Mutex
	generation uint64

	mu           sync.Mutex
	restartCount int
	lastStart    time.Time

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventMu sync.RWMutex
	eventCh chan SupervisorEvent
	closed  bool
}

// NewSupervisor creates a supervisor for the server described by launch.
func NewSupervisor(launch transport.Launch, config SupervisorConfig, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		config:  config,
		launch:  launch,
		logger:  zerolog.Nop(),
		eventCh: make(chan SupervisorEvent, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launch.Name == "" {
		s.launch.Name = s.launch.Command
	}

	topts := append([]transport.Option{
		transport.WithLogger(s.logger),
		transport.WithNotificationHandler(s.handleNotification),
	}, s.transportOpts...)
	s.transport = transport.New(topts...)

	copts := append([]ClientOption{WithClientLogger(s.logger.With().Str("component", "mcp").Logger())}, s.clientOpts...)
	s.client = NewClient(s.transport, copts...)

	s.logger = s.logger.With().Str("component", "supervisor").Str("server", s.launch.Name).Logger()
	s.state.Store(int32(SupervisorStateIdle))
	return s
}

// Start starts the server and begins supervision. ctx bounds the whole
// supervision, not just the start.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if SupervisorState(s.state.Load()) != SupervisorStateIdle {
		return ErrSupervisorRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startLocked(s.ctx, false); err != nil {
		s.state.Store(int32(SupervisorStateFailed))
		return err
	}
	s.state.Store(int32(SupervisorStateRunning))

	s.wg.Add(1)
	go s.monitor()
	return nil
}

// startLocked (re)starts the transport and rediscovers. Must hold lifecycle.
func (s *Supervisor) startLocked(ctx context.Context, restart bool) error {
	s.client.Reset()

	var err error
	if restart {
		err = s.transport.Restart(ctx)
	} else {
		err = s.transport.Start(ctx, s.launch)
	}
	s.generation++
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastStart = time.Now()
	s.mu.Unlock()

	if err := s.client.Discover(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("discovery failed; continuing without tools")
	}
	return nil
}

// monitor waits for the current child to end and handles crashes.
func (s *Supervisor) monitor() {
	defer s.wg.Done()

	for {
		s.lifecycle.Lock()
		gen := s.generation
		exited := s.transport.Exited()
		s.lifecycle.Unlock()

		select {
		case <-s.ctx.Done():
			return
		case <-exited:
		}

		// An explicit restart in progress holds lifecycle until the new
		// child is up.
		s.lifecycle.Lock()
		replaced := gen != s.generation
		s.lifecycle.Unlock()
		if replaced {
			continue
		}
		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			return
		}

		if !s.handleCrashWithRetry(gen) {
			return
		}
	}
}

// handleCrashWithRetry restarts the server until it recovers, the budget is
// exhausted or the supervisor stops. Returns true if the server is running
// again.
func (s *Supervisor) handleCrashWithRetry(gen uint64) bool {
	var exitErr error = transport.ErrTransportClosed

	for {
		s.mu.Lock()
		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			s.mu.Unlock()
			return false
		}
		if time.Since(s.lastStart) > s.config.ResetWindow {
			s.restartCount = 0
		}
		s.restartCount++
		attempt := s.restartCount
		s.mu.Unlock()

		s.emit(SupervisorEvent{Type: SupervisorEventCrash, Err: exitErr, Attempt: attempt})
		s.logger.Warn().Err(exitErr).Int("attempt", attempt).Msg("MCP server exited unexpectedly")

		if attempt > s.config.MaxRestarts {
			s.state.Store(int32(SupervisorStateFailed))
			s.emit(SupervisorEvent{Type: SupervisorEventFailed, Err: exitErr, Attempt: attempt})
			s.logger.Error().Int("restarts", attempt-1).Msg("MCP server failed permanently")
			return false
		}

		delay := CalculateBackoff(attempt, s.config.InitialBackoff, s.config.MaxBackoff, s.config.BackoffMultiplier)
		s.state.Store(int32(SupervisorStateRestarting))
		s.emit(SupervisorEvent{Type: SupervisorEventRestarting, Attempt: attempt, NextRetry: delay})
		s.logger.Info().Int("attempt", attempt).Dur("backoff", delay).Msg("restarting MCP server")

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		s.lifecycle.Lock()
		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			s.lifecycle.Unlock()
			return false
		}
		if gen != s.generation {
			// Restarted explicitly while we were backing off.
			s.lifecycle.Unlock()
			s.state.Store(int32(SupervisorStateRunning))
			return true
		}
		err := s.startLocked(s.ctx, true)
		gen = s.generation
		s.lifecycle.Unlock()
		if err != nil {
			exitErr = err
			continue
		}

		s.state.Store(int32(SupervisorStateRunning))
		s.emit(SupervisorEvent{Type: SupervisorEventRecovered, Attempt: attempt})
		s.logger.Info().Int("attempt", attempt).Int("pid", s.transport.PID()).Msg("MCP server recovered")
		return true
	}
}

// Restart replaces the running child with a fresh one and rediscovers. It
// also revives a supervisor that has permanently failed.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch SupervisorState(s.state.Load()) {
	case SupervisorStateIdle:
		return transport.ErrNeverStarted
	case SupervisorStateStopped:
		return ErrSupervisorStopped
	}

	wasFailed := SupervisorState(s.state.Load()) == SupervisorStateFailed
	if err := s.startLocked(ctx, true); err != nil {
		s.logger.Error().Err(err).Msg("manual restart failed")
		return err
	}

	s.mu.Lock()
	s.restartCount = 0
	s.mu.Unlock()
	s.state.Store(int32(SupervisorStateRunning))
	s.logger.Info().Int("pid", s.transport.PID()).Msg("MCP server restarted")

	if wasFailed {
		// The monitor exited when the server failed.
		s.wg.Add(1)
		go s.monitor()
	}
	return nil
}

// Stop stops supervision and shuts the server down. ctx bounds the wait
// for the monitor goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		prev := s.State()
		if prev == SupervisorStateStopped || prev == SupervisorStateIdle {
			return nil
		}
		if s.state.CompareAndSwap(int32(prev), int32(SupervisorStateStopped)) {
			break
		}
	}

	s.cancel()
	err := s.transport.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.eventMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.eventCh)
	}
	s.eventMu.Unlock()
	return err
}

// emit sends an event to listeners. Events are dropped if nobody keeps up.
func (s *Supervisor) emit(event SupervisorEvent) {
	event.Server = s.launch.Name

	s.eventMu.RLock()
	defer s.eventMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.eventCh <- event:
	default:
	}
}

// handleNotification runs on the transport's reader goroutine.
func (s *Supervisor) handleNotification(method string, params json.RawMessage) {
	switch method {
	case NotificationToolsChanged, NotificationResourcesChanged, NotificationPromptsChanged:
		s.logger.Debug().Str("method", method).Msg("server capabilities changed")
		// Discovery issues calls, which must not happen on the reader goroutine.
		go func() {
			ctx := s.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			if err := s.client.Discover(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("rediscovery failed")
			}
		}()
	}
	if s.onNotification != nil {
		s.onNotification(method, params)
	}
}

// Events returns the event channel. It is closed by Stop.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.eventCh
}

// Client returns the MCP client. It stays valid across restarts.
func (s *Supervisor) Client() *Client {
	return s.client
}

// Transport returns the underlying transport.
func (s *Supervisor) Transport() *transport.Transport {
	return s.transport
}

// State returns the current supervisor state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// IsReady reports whether calls can be made right now.
func (s *Supervisor) IsReady() bool {
	return s.State() == SupervisorStateRunning && s.transport.IsReady()
}

// RestartCount returns the number of restart attempts since the last reset.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// Status returns a snapshot for status endpoints and commands.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	restarts, lastStart := s.restartCount, s.lastStart
	s.mu.Unlock()

	return Status{
		Server:       s.launch.Name,
		State:        s.State().String(),
		Transport:    s.transport.State().String(),
		Ready:        s.IsReady(),
		PID:          s.transport.PID(),
		Restarts:     restarts,
		LastStart:    lastStart,
		PendingCalls: s.transport.PendingCalls(),
		Tools:        s.client.ToolNames(),
		Resources:    len(s.client.Resources()),
		Prompts:      len(s.client.Prompts()),
		ServerInfo:   s.transport.ServerInfo(),
	}
}

// CalculateBackoff calculates the backoff duration for a given attempt.
// attempt=0 or attempt=1 returns initial, subsequent attempts grow
// exponentially up to max.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
