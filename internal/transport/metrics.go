package transport

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/mcpbridge/internal/jsonrpc"
)

// Call outcome label values.
const (
	outcomeOK          = "ok"
	outcomeRemoteError = "remote_error"
	outcomeTimeout     = "timeout"
	outcomeClosed      = "closed"
	outcomeCanceled    = "canceled"
	outcomeError       = "error"
)

// Metrics holds the Prometheus collectors for a transport. A nil *Metrics
// records nothing.
type Metrics struct {
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	pending       prometheus.Gauge
	decodeErrors  prometheus.Counter
	unmatched     prometheus.Counter
	notifications prometheus.Counter
	starts        *prometheus.CounterVec
	state         prometheus.Gauge
}

// NewMetrics creates the transport collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const ns, sub = "mcpbridge", "transport"

	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "calls_total",
			Help:      "Calls issued to the MCP child, by method and outcome.",
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "call_duration_seconds",
			Help:      "Time from writing a request to observing its outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pending_calls",
			Help:      "Requests currently awaiting a reply.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "decode_errors_total",
			Help:      "Lines from the child's stdout that could not be decoded.",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "unmatched_replies_total",
			Help:      "Replies whose id was not awaited (late or unknown).",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "notifications_total",
			Help:      "Notifications received from the child.",
		}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "starts_total",
			Help:      "Start attempts by result.",
		}, []string{"result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "state",
			Help:      "Lifecycle state (0 not_started, 1 starting, 2 ready, 3 degraded, 4 stopped).",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.calls, m.callDuration, m.pending, m.decodeErrors,
		m.unmatched, m.notifications, m.starts, m.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(method string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, callOutcome(err)).Inc()
	m.callDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) unmatchedReply() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}

func (m *Metrics) notification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) startResult(result string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(result).Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func callOutcome(err error) string {
	var rpcErr *jsonrpc.Error
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &rpcErr):
		return outcomeRemoteError
	case errors.Is(err, ErrTimeout):
		return outcomeTimeout
	case errors.Is(err, ErrTransportClosed), errors.Is(err, ErrNotReady):
		return outcomeClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeError
	}
}
