package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/jsonrpc"
)

// Default timeouts used by Client.
const (
	DefaultToolTimeout = 60 * time.Second
	DefaultPingTimeout = 5 * time.Second
)

// maxListPages bounds cursor pagination of the list methods.
const maxListPages = 100

// Caller issues JSON-RPC requests. *transport.Transport implements it; a
// zero timeout selects the caller's default.
type Caller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToolTimeout sets the timeout for tools/call.
func WithToolTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.toolTimeout = d
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is an MCP session over a Caller. It caches what Discover finds.
type Client struct {
	caller      Caller
	toolTimeout time.Duration
	logger      zerolog.Logger

	mu         sync.RWMutex
	discovered bool
	tools      []Tool
	toolIndex  map[string]int
	resources  []Resource
	prompts    []Prompt
}

// NewClient creates a client that sends requests through caller.
func NewClient(caller Caller, opts ...ClientOption) *Client {
	c := &Client{
		caller:      caller,
		toolTimeout: DefaultToolTimeout,
		logger:      zerolog.Nop(),
		toolIndex:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover lists tools, resources and prompts and replaces the cache.
// Only a tools/list failure is reported; servers that do not offer
// resources or prompts are common.
func (c *Client) Discover(ctx context.Context) error {
	var tools []Tool
	err := c.list(ctx, MethodToolsList, "tools", func(raw json.RawMessage) error {
		var page []Tool
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		tools = append(tools, page...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("discovering tools: %w", err)
	}

	var resources []Resource
	err = c.list(ctx, MethodResourcesList, "resources", func(raw json.RawMessage) error {
		var page []Resource
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		resources = append(resources, page...)
		return nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("resources unavailable")
		resources = nil
	}

	var prompts []Prompt
	err = c.list(ctx, MethodPromptsList, "prompts", func(raw json.RawMessage) error {
		var page []Prompt
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		prompts = append(prompts, page...)
		return nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("prompts unavailable")
		prompts = nil
	}

	index := make(map[string]int, len(tools))
	for i, tool := range tools {
		index[tool.Name] = i
	}

	c.mu.Lock()
	c.discovered = true
	c.tools = tools
	c.toolIndex = index
	c.resources = resources
	c.prompts = prompts
	c.mu.Unlock()

	c.logger.Info().
		Int("tools", len(tools)).
		Int("resources", len(resources)).
		Int("prompts", len(prompts)).
		Msg("MCP capabilities discovered")
	return nil
}

// list calls a paginated list method and hands every page's items, found
// under key, to add.
func (c *Client) list(ctx context.Context, method, key string, add func(json.RawMessage) error) error {
	cursor := ""
	for page := 0; page < maxListPages; page++ {
		raw, err := c.caller.Call(ctx, method, cursorParams{Cursor: cursor}, 0)
		if err != nil {
			return err
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
		if items, ok := envelope[key]; ok && string(items) != "null" {
			if err := add(items); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}

		cursor = ""
		if next, ok := envelope["nextCursor"]; ok {
			_ = json.Unmarshal(next, &cursor)
		}
		if cursor == "" {
			return nil
		}
	}
	return fmt.Errorf("%s: more than %d pages", method, maxListPages)
}

// Discovered reports whether Discover has completed at least once.
func (c *Client) Discovered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discovered
}

// Tools returns a copy of the discovered tools in server order.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Tool(nil), c.tools...)
}

// ToolNames returns the names of the discovered tools in server order.
func (c *Client) ToolNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.tools))
	for i, tool := range c.tools {
		names[i] = tool.Name
	}
	return names
}

// Tool looks up a discovered tool by name.
func (c *Client) Tool(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.toolIndex[name]
	if !ok {
		return Tool{}, false
	}
	return c.tools[i], true
}

// Resources returns a copy of the discovered resources.
func (c *Client) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Resource(nil), c.resources...)
}

// Prompts returns a copy of the discovered prompts.
func (c *Client) Prompts() []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Prompt(nil), c.prompts...)
}

// CallTool invokes a discovered tool. args is marshalled as the tool's
// arguments object; nil sends an empty object. A result with IsError set
// is returned without an error: the tool ran and reported a failure.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*CallToolResult, error) {
	c.mu.RLock()
	discovered := c.discovered
	_, known := c.toolIndex[name]
	c.mu.RUnlock()
	if !discovered {
		return nil, ErrNotDiscovered
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	raw, err := c.caller.Call(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: args}, c.toolTimeout)
	if err != nil {
		c.logger.Warn().Err(err).Str("tool", name).Dur("elapsed", time.Since(start)).Msg("tool call failed")
		return nil, fmt.Errorf("calling tool %s: %w", name, err)
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", name, err)
	}
	c.logger.Debug().
		Str("tool", name).
		Bool("is_error", result.IsError).
		Dur("elapsed", time.Since(start)).
		Msg("tool call completed")
	return &result, nil
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	raw, err := c.caller.Call(ctx, MethodResourcesRead, map[string]string{"uri": uri}, 0)
	if err != nil {
		return nil, fmt.Errorf("reading resource %s: %w", uri, err)
	}
	var result ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding resource %s: %w", uri, err)
	}
	return &result, nil
}

// GetPrompt expands the named prompt with args.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	raw, err := c.caller.Call(ctx, MethodPromptsGet, getPromptParams{Name: name, Arguments: args}, 0)
	if err != nil {
		return nil, fmt.Errorf("getting prompt %s: %w", name, err)
	}
	var result GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding prompt %s: %w", name, err)
	}
	return &result, nil
}

// Ping checks that the server answers. Servers that do not implement ping
// but reply with "method not found" are alive, so that counts as success.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.caller.Call(ctx, MethodPing, struct{}{}, DefaultPingTimeout)
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.Code == jsonrpc.CodeMethodNotFound {
		return nil
	}
	return err
}

// Reset forgets everything Discover found.
func (c *Client) Reset() {
	c.mu.Lock()
	c.discovered = false
	c.tools = nil
	c.toolIndex = make(map[string]int)
	c.resources = nil
	c.prompts = nil
	c.mu.Unlock()
}
