package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/agent"
	"github.com/dshills/mcpbridge/internal/mcp"
)

// DefaultModelName is the model id advertised when none is configured.
const DefaultModelName = "alfresco-mcp-assistant"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Responder answers a question given earlier turns.
type Responder interface {
	Respond(ctx context.Context, input string, history []agent.Turn) agent.Reply
}

// Backend is the supervised MCP server.
type Backend interface {
	IsReady() bool
	Status() mcp.Status
	Restart(ctx context.Context) error
	Tools() []mcp.Tool
}

// SupervisorBackend exposes s as a Backend.
func SupervisorBackend(s *mcp.Supervisor) Backend {
	return supervisorBackend{s}
}

type supervisorBackend struct {
	*mcp.Supervisor
}

func (b supervisorBackend) Tools() []mcp.Tool {
	return b.Client().Tools()
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used for access and error logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithModelName sets the advertised model id.
func WithModelName(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.modelName = name
		}
	}
}

// WithProviderInfo advertises a second model id naming the LLM behind the
// assistant.
func WithProviderInfo(provider, model string) Option {
	return func(g *Gateway) {
		g.provider = provider
		g.model = model
	}
}

// WithRegistry serves reg on /metrics and records request metrics in it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(g *Gateway) {
		g.registry = reg
	}
}

// WithChatTimeout bounds a single chat completion.
func WithChatTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.chatTimeout = d
	}
}

// Gateway is the HTTP front end.
type Gateway struct {
	responder   Responder
	backend     Backend
	logger      zerolog.Logger
	modelName   string
	provider    string
	model       string
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	chatTimeout time.Duration
	now         func() time.Time
}

// New creates a gateway. backend may be nil when no MCP server is
// configured; the status endpoints then report it as unavailable.
func New(responder Responder, backend Backend, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		responder:   responder,
		backend:     backend,
		logger:      zerolog.Nop(),
		modelName:   DefaultModelName,
		chatTimeout: 2 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gateway").Logger()

	if g.registry != nil {
		g.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"})
		if err := g.registry.Register(g.requests); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			g.requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return g, nil
}

// Handler returns the routed handler.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/tools", g.handleTools)
	r.Get("/status", g.handleStatus)
	r.Post("/restart", g.handleRestart)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", g.handleModels)
		r.Post("/chat/completions", g.handleChatCompletions)
	})
	if g.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (g *Gateway) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return g.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (g *Gateway) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	g.logger.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	g.logger.Info().Msg("gateway stopped")
	return nil
}

// accessLog logs each request and counts it.
func (g *Gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if g.requests != nil {
			g.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}

		event := g.logger.Info()
		if status >= http.StatusInternalServerError {
			event = g.logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
