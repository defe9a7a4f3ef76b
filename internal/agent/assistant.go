package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/llm"
	"github.com/dshills/mcpbridge/internal/mcp"
)

// Token limits for the two model calls.
const (
	IntentMaxTokens = 300
	AnswerMaxTokens = 500
)

// ToolSource is the MCP side of the assistant.
type ToolSource interface {
	// Connected reports whether tool calls can be made now.
	Connected() bool
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error)
}

// SupervisedTools exposes a supervised MCP server as a ToolSource.
func SupervisedTools(s *mcp.Supervisor) ToolSource {
	return supervisedTools{s}
}

type supervisedTools struct {
	s *mcp.Supervisor
}

func (t supervisedTools) Connected() bool { return t.s.IsReady() }
func (t supervisedTools) Tools() []mcp.Tool {
	return t.s.Client().Tools()
}
func (t supervisedTools) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	return t.s.Client().CallTool(ctx, name, args)
}

// Reply is the outcome of one question.
type Reply struct {
	Text string `json:"text"`
	// Tool is the tool that was called, if any.
	Tool string `json:"tool,omitempty"`
	// ToolResult is the formatted tool output, or the reason the tool
	// could not be used.
	ToolResult string `json:"tool_result,omitempty"`
	// Degraded is set when a tool or the model failed.
	Degraded bool          `json:"degraded"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithTools connects the assistant to MCP tools.
func WithTools(src ToolSource) Option {
	return func(a *Assistant) {
		a.tools = src
	}
}

// WithModelInfo sets the provider and model quoted in prompts.
func WithModelInfo(provider, model string) Option {
	return func(a *Assistant) {
		a.provider = provider
		a.model = model
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assistant) {
		a.logger = logger
	}
}

// Assistant answers questions. It holds no per-conversation state and is
// safe for concurrent use; see Session for history.
type Assistant struct {
	llm      llm.Completer
	tools    ToolSource
	provider string
	model    string
	logger   zerolog.Logger
}

// New creates an assistant backed by completer.
func New(completer llm.Completer, opts ...Option) *Assistant {
	a := &Assistant{
		llm:    completer,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "agent").Logger()
	return a
}

// Respond answers input given the earlier turns of the conversation.
func (a *Assistant) Respond(ctx context.Context, input string, history []Turn) Reply {
	start := time.Now()
	var reply Reply

	info := promptInfo{Provider: a.provider, Model: a.model}
	var tools []mcp.Tool
	if a.tools != nil && a.tools.Connected() {
		tools = a.tools.Tools()
		info.Connected = true
		for _, tool := range tools {
			info.ToolNames = append(info.ToolNames, tool.Name)
		}
	}

	var prompt string
	if info.Connected {
		if len(tools) > 0 {
			reply.Tool, reply.ToolResult, reply.Degraded = a.useTool(ctx, input, tools)
		}
		prompt = enhancedPrompt(info, history, reply.ToolResult, input)
	} else {
		prompt = fallbackPrompt(info, history, input)
	}

	text, err := a.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: AnswerMaxTokens})
	if err != nil {
		a.logger.Warn().Err(err).Msg("answer completion failed")
		reply.Degraded = true
		text = fmt.Sprintf("The %s model could not be reached (%v).", a.providerName(), err)
		if reply.ToolResult != "" {
			text += "\n" + reply.ToolResult
		}
	}
	reply.Text = text
	reply.Elapsed = time.Since(start)
	a.logger.Info().
		Str("tool", reply.Tool).
		Bool("degraded", reply.Degraded).
		Dur("elapsed", reply.Elapsed).
		Msg("question answered")
	return reply
}

// useTool asks the model for an intent and runs the chosen tool. It
// returns the tool name, the text for the answer prompt and whether
// something failed.
func (a *Assistant) useTool(ctx context.Context, input string, tools []mcp.Tool) (string, string, bool) {
	raw, err := a.llm.Complete(ctx, llm.Request{Prompt: intentPrompt(tools, input), MaxTokens: IntentMaxTokens})
	if err != nil {
		a.logger.Warn().Err(err).Msg("intent completion failed")
		return "", "", true
	}

	intent, err := ParseIntent(raw)
	if err != nil {
		a.logger.Debug().Str("reply", raw).Msg("no intent in model reply")
		return "", "", false
	}
	if intent.Action != ActionCallTool {
		return "", "", false
	}

	known := false
	for _, tool := range tools {
		if tool.Name == intent.ToolName {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Sprintf("Tool %q is not available.", intent.ToolName), true
	}

	a.logger.Info().
		Str("tool", intent.ToolName).
		Str("explanation", intent.Explanation).
		Msg("calling tool")
	result, err := a.tools.CallTool(ctx, intent.ToolName, intent.Arguments)
	if err != nil {
		return intent.ToolName, fmt.Sprintf("Tool %s failed: %v", intent.ToolName, err), true
	}
	if result.IsError {
		return intent.ToolName, fmt.Sprintf("Tool %s reported an error:\n%s", intent.ToolName, result.Text()), true
	}
	return intent.ToolName, fmt.Sprintf("Tool %s result:\n%s", intent.ToolName, result.Text()), false
}

func (a *Assistant) providerName() string {
	if a.provider == "" {
		return "language"
	}
	return a.provider
}
