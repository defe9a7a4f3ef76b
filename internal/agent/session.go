package agent

import (
	"context"
	"sync"
)

// MaxHistory is the number of turns a Session remembers.
const MaxHistory = 5

// Session is one conversation with an Assistant.
type Session struct {
	assistant *Assistant

	mu      sync.Mutex
	history []Turn
}

// NewSession starts an empty conversation.
func NewSession(a *Assistant) *Session {
	return &Session{assistant: a}
}

// Ask answers input and records the turn.
func (s *Session) Ask(ctx context.Context, input string) Reply {
	history := s.History()
	reply := s.assistant.Respond(ctx, input, history)

	s.mu.Lock()
	s.history = append(s.history, Turn{User: input, Assistant: reply.Text})
	if len(s.history) > MaxHistory {
		s.history = append([]Turn(nil), s.history[len(s.history)-MaxHistory:]...)
	}
	s.mu.Unlock()
	return reply
}

// History returns a copy of the remembered turns, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Reset forgets the conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}
