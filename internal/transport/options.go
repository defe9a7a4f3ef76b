package transport

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/process"
)

// Defaults applied by New.
const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultShutdownGrace    = 5 * time.Second

	// ProtocolVersion is sent in the initialize request.
	ProtocolVersion = "2024-11-05"
)

// ClientInfo identifies this client during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NotificationHandler receives notifications from the child. It runs on the
// reader goroutine, in arrival order, and must not block for long or issue
// calls on the same transport.
type NotificationHandler func(method string, params json.RawMessage)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. Child stderr lines are logged through it.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithStderrLevel sets the level at which child stderr lines are logged.
func WithStderrLevel(level zerolog.Level) Option {
	return func(t *Transport) {
		t.stderrLevel = level
	}
}

// WithCallTimeout sets the timeout used when Call is given none.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the initialize exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

// WithShutdownGrace sets the grace period used by Restart and Close.
func WithShutdownGrace(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.shutdownGrace = d
		}
	}
}

// WithClientInfo sets the clientInfo sent during the handshake.
func WithClientInfo(info ClientInfo) Option {
	return func(t *Transport) {
		t.clientInfo = info
	}
}

// WithNotificationHandler subscribes to notifications from the child.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(t *Transport) {
		t.onNotification = h
	}
}

// WithMetrics records transport metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithSupervisor spawns children through sup instead of a private one.
func WithSupervisor(sup *process.Supervisor) Option {
	return func(t *Transport) {
		t.sup = sup
	}
}
