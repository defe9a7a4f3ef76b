// Package llm wraps the supported language model providers behind a single
// text completion interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/config"
)

var (
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")

	// ErrMissingAPIKey is returned by New when the provider needs a key and
	// none is configured.
	ErrMissingAPIKey = errors.New("llm: missing api key")

	// ErrEmptyResponse is returned when the provider answers without text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Request is a single prompt. Zero MaxTokens and Temperature fall back to
// the client's configured values.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used by the REST based providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithBackoff replaces the delay between retries.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(o *options) {
		o.backoff = fn
	}
}

// Client is a configured provider with defaults and retries applied.
type Client struct {
	provider    string
	model       string
	maxTokens   int
	temperature float64
	next        Completer
	closer      io.Closer
	logger      zerolog.Logger
}

// New builds a client for cfg.Provider.
func New(cfg config.LLM, opts ...Option) (*Client, error) {
	o := options{
		logger:  zerolog.Nop(),
		backoff: ExponentialBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("component", "llm").Str("provider", cfg.Provider).Logger()

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, cfg.Provider)
	}

	var (
		provider Completer
		err      error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		provider = newOpenAI(cfg.Model, cfg.APIKey, cfg.BaseURL, o.httpClient)
	case config.ProviderGroq:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = config.GroqBaseURL
		}
		provider = newOpenAI(cfg.Model, cfg.APIKey, baseURL, o.httpClient)
	case config.ProviderAnthropic:
		provider = newAnthropic(cfg.Model, cfg.APIKey, cfg.BaseURL, o.httpClient)
	case config.ProviderGemini:
		provider, err = newGemini(context.Background(), cfg.Model, cfg.APIKey, cfg.BaseURL, o.httpClient)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	closer, _ := provider.(io.Closer)
	return &Client{
		closer:      closer,
		provider:    cfg.Provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		next:        NewRetrying(AttemptTimeout(provider, cfg.Timeout.Std()), attempts, o.backoff, logger),
		logger:      logger,
	}, nil
}

// Provider returns the configured provider name.
func (c *Client) Provider() string {
	return c.provider
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete fills in defaults and asks the provider, retrying failures.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = c.temperature
	}

	start := time.Now()
	text, err := c.next.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	c.logger.Debug().
		Str("model", c.model).
		Int("max_tokens", req.MaxTokens).
		Dur("elapsed", time.Since(start)).
		Msg("completion received")
	return strings.TrimSpace(text), nil
}

// Close releases provider resources.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
