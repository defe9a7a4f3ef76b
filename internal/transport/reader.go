package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dshills/mcpbridge/internal/jsonrpc"
	"github.com/dshills/mcpbridge/internal/process"
)

// readerDrainTimeout bounds how long closeSession waits for the readers to
// reach EOF before closing the pipes under them. A grandchild holding the
// child's stdout open would otherwise keep them blocked.
const readerDrainTimeout = time.Second

// session is one spawned child together with its write lock and readers.
// Readers only ever act on their own session, so a stale reader from a
// previous child cannot disturb a restarted one.
type session struct {
	proc    *process.Process
	writeMu sync.Mutex

	// done is closed when the primary reader exits.
	done    chan struct{}
	readers sync.WaitGroup

	// ended is set under Transport.mu once stdout has closed.
	ended bool
}

func newSession(proc *process.Process) *session {
	return &session{proc: proc, done: make(chan struct{})}
}

// write sends one complete frame. Frames never interleave.
func (s *session) write(line []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.proc.Stdin.Write(line)
	return err
}

// waitReaders waits for both readers, closing the output pipes if they have
// not finished within d.
func (s *session) waitReaders(d time.Duration) {
	finished := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(finished)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		_ = s.proc.Close()
		<-finished
	}
}

// readPrimary decodes stdout until EOF. Nothing it reads can stop the loop
// except the end of the stream.
func (t *Transport) readPrimary(sess *session) {
	defer sess.readers.Done()
	defer close(sess.done)
	defer sess.proc.Stdout.Close()

	r := bufio.NewReader(sess.proc.Stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			t.handleLine(sess, line)
		}
		if err != nil {
			t.primaryClosed(sess, err)
			return
		}
	}
}

func (t *Transport) handleLine(sess *session, line []byte) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		t.metrics.decodeError()
		t.logger.Warn().Err(err).Msg("dropping undecodable line from server")
		return
	}

	switch msg.Kind {
	case jsonrpc.KindReply:
		reply := Reply{Result: msg.Result}
		if msg.Error != nil {
			reply.Err = msg.Error
		}
		if !t.pending.Resolve(msg.ID, reply) {
			t.metrics.unmatchedReply()
			t.logger.Warn().Str("id", msg.ID).Msg("unexpected reply id")
		}

	case jsonrpc.KindNotification:
		t.metrics.notification()
		t.dispatchNotification(msg.Method, msg.Params)

	case jsonrpc.KindRequest:
		// Answer off the reader goroutine so a child that is not draining
		// its stdin cannot stall our reads of its stdout.
		go t.answerServerRequest(sess, msg)
	}
}

// dispatchNotification runs the handler inline to keep notifications in
// arrival order.
func (t *Transport) dispatchNotification(method string, params json.RawMessage) {
	t.logger.Debug().Str("method", method).Msg("notification")
	if t.onNotification == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("method", method).Msg("notification handler panicked")
		}
	}()
	t.onNotification(method, params)
}

func (t *Transport) answerServerRequest(sess *session, msg *jsonrpc.Message) {
	var (
		line []byte
		err  error
	)
	if msg.Method == "ping" {
		line, err = jsonrpc.EncodeResult(msg.RawID, nil)
	} else {
		line, err = jsonrpc.EncodeError(msg.RawID, &jsonrpc.Error{
			Code:    jsonrpc.CodeMethodNotFound,
			Message: "method not found: " + msg.Method,
		})
	}
	if err == nil {
		err = sess.write(line)
	}
	if err != nil {
		t.logger.Debug().Err(err).Str("method", msg.Method).Msg("could not answer server request")
	}
}

// primaryClosed handles the end of stdout. If sess is still the current
// session of a Ready transport, the transport degrades and every pending
// call is released.
func (t *Transport) primaryClosed(sess *session, readErr error) {
	t.mu.Lock()
	sess.ended = true
	degrade := t.sess == sess && t.state == StateReady
	if degrade {
		t.state = StateDegraded
	}
	t.mu.Unlock()

	if !degrade {
		return
	}
	t.metrics.setState(StateDegraded)
	released := t.pending.FailAll(ErrTransportClosed)
	t.metrics.setPending(0)

	ev := t.logger.Warn().Int("pid", sess.proc.PID()).Int("released_calls", released)
	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, os.ErrClosed) {
		ev = ev.Err(readErr)
	}
	ev.Msg("MCP server output closed; transport degraded")
}

// readDiagnostic forwards stderr lines verbatim to the log.
func (t *Transport) readDiagnostic(sess *session) {
	defer sess.readers.Done()
	defer sess.proc.Stderr.Close()

	r := bufio.NewReader(sess.proc.Stderr)
	for {
		line, err := r.ReadBytes('\n')
		if text := bytes.TrimRight(line, "\r\n"); len(text) > 0 {
			t.logger.WithLevel(t.stderrLevel).
				Str("stream", "stderr").
				Int("pid", sess.proc.PID()).
				Msg(string(text))
		}
		if err != nil {
			return
		}
	}
}
