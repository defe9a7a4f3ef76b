package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/jsonrpc"
	"github.com/dshills/mcpbridge/internal/process"
)

// Method names used by the handshake.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
)

// Launch describes the child to run. Its Spec is passed to the process
// supervisor untouched.
type Launch struct {
	// Name labels the child in logs.
	Name string
	process.Spec
}

// Transport talks line-delimited JSON-RPC to a child process over its stdin
// and stdout while logging its stderr.
//
// Calls may be issued concurrently. Writes are serialized per child session;
// replies are matched by id in whatever order the child sends them.
type Transport struct {
	logger           zerolog.Logger
	stderrLevel      zerolog.Level
	callTimeout      time.Duration
	handshakeTimeout time.Duration
	shutdownGrace    time.Duration
	clientInfo       ClientInfo
	onNotification   NotificationHandler
	metrics          *Metrics

	sup     *process.Supervisor
	pending *PendingTable

	// lifecycle serializes Start, Shutdown and Restart.
	lifecycle sync.Mutex

	// mu guards the fields below. No I/O is done while holding it.
	mu         sync.Mutex
	state      State
	sess       *session
	launch     Launch
	started    bool
	serverInfo json.RawMessage
	// closed is set by Shutdown; only Restart clears it.
	closed bool
	// abortStart cancels the handshake of a start in progress.
	abortStart context.CancelCauseFunc
}

// New creates a transport in the NotStarted state.
func New(opts ...Option) *Transport {
	t := &Transport{
		logger:           zerolog.Nop(),
		stderrLevel:      zerolog.InfoLevel,
		callTimeout:      DefaultCallTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		shutdownGrace:    DefaultShutdownGrace,
		clientInfo:       ClientInfo{Name: "mcpbridge", Version: "dev"},
		pending:          NewPendingTable(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sup == nil {
		t.sup = process.NewSupervisor(process.WithLogger(t.logger))
	}
	t.logger = t.logger.With().Str("component", "transport").Logger()
	return t
}

// Start spawns the child, starts both stream readers and performs the
// initialize handshake. On any failure the child is terminated, the
// transport is Stopped and a *StartError is returned.
//
// A transport that was shut down stays closed: Start returns
// ErrTransportClosed and only Restart brings it back.
func (t *Transport) Start(ctx context.Context, launch Launch) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	return t.start(ctx, launch)
}

func (t *Transport) start(ctx context.Context, launch Launch) error {
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	t.mu.Lock()
	switch t.state {
	case StateStarting, StateReady, StateDegraded:
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.state = StateStarting
	t.abortStart = abort
	t.launch = launch
	t.started = true
	t.serverInfo = nil
	t.mu.Unlock()
	t.metrics.setState(StateStarting)

	if launch.Name == "" {
		launch.Name = launch.Command
	}
	log := t.logger.With().Str("server", launch.Name).Logger()

	defer func() {
		t.mu.Lock()
		t.abortStart = nil
		t.mu.Unlock()
	}()

	proc, err := t.sup.Spawn(launch.Name, launch.Spec)
	if err != nil {
		t.setState(StateStopped)
		t.metrics.startResult("spawn_error")
		log.Error().Err(err).Str("command", launch.Command).Msg("failed to spawn MCP server")
		return &StartError{Phase: PhaseSpawn, Err: err}
	}

	sess := newSession(proc)
	t.mu.Lock()
	t.sess = sess
	t.mu.Unlock()

	sess.readers.Add(2)
	go t.readPrimary(sess)
	go t.readDiagnostic(sess)

	info, err := t.handshake(ctx, sess)
	if err == nil && errors.Is(context.Cause(ctx), ErrTransportClosed) {
		// Shutdown ran while the initialize reply was being delivered.
		err = ErrTransportClosed
	}
	if err != nil {
		t.setState(StateStopped)
		t.pending.FailAll(ErrTransportClosed)
		term := t.closeSession(sess, t.shutdownGrace)
		t.metrics.startResult("handshake_error")
		log.Error().
			Err(err).
			Int("pid", proc.PID()).
			Stringer("termination", term.Outcome).
			Msg("MCP handshake failed")
		return &StartError{Phase: PhaseHandshake, Err: err}
	}

	// The child may already be gone if it exited right after the handshake.
	t.mu.Lock()
	t.serverInfo = info
	t.state = StateReady
	if sess.ended {
		t.state = StateDegraded
	}
	state := t.state
	t.mu.Unlock()
	t.metrics.setState(state)
	t.metrics.startResult("ok")

	if state == StateDegraded {
		log.Warn().Int("pid", proc.PID()).Msg("MCP server exited right after the handshake")
		return nil
	}
	log.Info().Int("pid", proc.PID()).Msg("MCP server ready")
	return nil
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

func (t *Transport) handshake(ctx context.Context, sess *session) (json.RawMessage, error) {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ClientInfo: t.clientInfo,
	}

	result, err := t.roundTrip(ctx, sess, MethodInitialize, params, t.handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	line, err := jsonrpc.EncodeNotification(MethodInitialized, nil)
	if err != nil {
		return nil, err
	}
	if err := sess.write(line); err != nil {
		return nil, fmt.Errorf("send initialized: %w", err)
	}
	return result, nil
}

// Call sends a request and waits for its reply, the timeout, ctx, or the
// end of the child session, whichever comes first. A non-positive timeout
// uses the configured default.
//
// A remote error is returned as *jsonrpc.Error. On timeout the request is
// forgotten locally; no cancellation is sent and the child may still act on
// it.
func (t *Transport) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	sess, err := t.readySession()
	if err != nil {
		return nil, err
	}
	return t.roundTrip(ctx, sess, method, params, timeout)
}

// Notify writes a notification. It does not wait for anything.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	sess, err := t.readySession()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	if err := sess.write(line); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

func (t *Transport) readySession() (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.state == StateStopped:
		return nil, ErrTransportClosed
	case t.state != StateReady:
		return nil, ErrNotReady
	case t.sess == nil || !t.sess.proc.IsAlive():
		return nil, ErrNotReady
	}
	return t.sess, nil
}

func (t *Transport) roundTrip(ctx context.Context, sess *session, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = t.callTimeout
	}

	id := uuid.NewString()
	line, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	p, err := t.pending.Register(id)
	if err != nil {
		return nil, err
	}
	t.metrics.setPending(t.pending.Len())

	started := time.Now()
	result, err := t.await(ctx, sess, p, line, timeout)
	t.metrics.setPending(t.pending.Len())
	t.metrics.observeCall(method, started, err)

	if err != nil && !isRemote(err) {
		t.logger.Debug().Err(err).Str("method", method).Str("id", id).Msg("call failed")
	}
	return result, err
}

func (t *Transport) await(ctx context.Context, sess *session, p *Pending, line []byte, timeout time.Duration) (json.RawMessage, error) {
	if err := sess.write(line); err != nil {
		t.pending.Abandon(p.ID())
		return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// When the abandon loses the race the entry has already been resolved,
	// so Done is closed and the reply is read below.
	select {
	case <-p.Done():
	case <-timer.C:
		if t.pending.Abandon(p.ID()) {
			return nil, ErrTimeout
		}
	case <-ctx.Done():
		if t.pending.Abandon(p.ID()) {
			return nil, context.Cause(ctx)
		}
	case <-sess.done:
		if t.pending.Abandon(p.ID()) {
			return nil, ErrTransportClosed
		}
	}
	<-p.Done()

	reply := p.Reply()
	if reply.Err != nil {
		return nil, reply.Err
	}
	return reply.Result, nil
}

// Shutdown stops the transport: it releases every pending call with
// ErrTransportClosed, closes the child's stdin, waits up to grace and then
// kills it. The returned error is non-nil only if the child could not be
// confirmed dead.
func (t *Transport) Shutdown(grace time.Duration) (process.Termination, error) {
	// A start holds lifecycle for the whole handshake. Abort it and release
	// the waiters first so that nothing waits for the handshake timeout.
	t.mu.Lock()
	t.closed = true
	if t.abortStart != nil {
		t.abortStart(ErrTransportClosed)
	}
	t.mu.Unlock()
	t.pending.FailAll(ErrTransportClosed)

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	return t.shutdown(grace)
}

func (t *Transport) shutdown(grace time.Duration) (process.Termination, error) {
	t.mu.Lock()
	prev := t.state
	sess := t.sess
	t.state = StateStopped
	t.mu.Unlock()
	t.metrics.setState(StateStopped)

	released := t.pending.FailAll(ErrTransportClosed)
	t.metrics.setPending(0)

	if sess == nil {
		return process.Termination{Outcome: process.OutcomeAlreadyExited, ExitCode: -1}, nil
	}

	term := t.closeSession(sess, grace)
	if prev != StateStopped {
		t.logger.Info().
			Stringer("from", prev).
			Int("released_calls", released).
			Stringer("termination", term.Outcome).
			Int("exit_code", term.ExitCode).
			Msg("transport stopped")
	}
	if !term.OK() {
		return term, term.Err
	}
	return term, nil
}

// closeSession terminates the child and waits for its readers.
func (t *Transport) closeSession(sess *session, grace time.Duration) process.Termination {
	term := process.Terminate(sess.proc, grace)
	sess.waitReaders(readerDrainTimeout)
	return term
}

// Restart shuts the current child down and starts a new one with the launch
// parameters of the last Start.
func (t *Transport) Restart(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	launch, started := t.launch, t.started
	if started {
		t.closed = false
	}
	t.mu.Unlock()
	if !started {
		return ErrNeverStarted
	}

	if _, err := t.shutdown(t.shutdownGrace); err != nil {
		t.logger.Warn().Err(err).Msg("previous MCP server did not terminate cleanly")
	}

	return t.start(ctx, launch)
}

// Close shuts the transport down with the configured grace period.
func (t *Transport) Close() error {
	_, err := t.Shutdown(t.shutdownGrace)
	return err
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsReady reports whether calls are currently accepted.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateReady && t.sess != nil && t.sess.proc.IsAlive()
}

// IsAlive reports whether the current child process is running.
func (t *Transport) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil && t.sess.proc.IsAlive()
}

// ServerInfo returns the result of the last successful initialize call.
func (t *Transport) ServerInfo() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serverInfo
}

// PID returns the pid of the current child, or -1.
func (t *Transport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return -1
	}
	return t.sess.proc.PID()
}

// Exited returns a channel closed when the current child session ends,
// meaning its stdout has been fully read. It is already closed when there
// is no session.
func (t *Transport) Exited() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return closedChan
	}
	return t.sess.done
}

// PendingCalls returns the number of calls awaiting a reply.
func (t *Transport) PendingCalls() int {
	return t.pending.Len()
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.metrics.setState(s)
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func isRemote(err error) bool {
	var rpcErr *jsonrpc.Error
	return errors.As(err, &rpcErr)
}
