package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/mcpbridge/internal/agent"
	"github.com/dshills/mcpbridge/internal/logging"
	"github.com/dshills/mcpbridge/internal/mcp"
)

const maxLineBytes = 1 << 20

func newChatCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			logger, err := setupLogging(os.Stderr, cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			assistant, client, err := rt.newAssistant()
			if err != nil {
				return err
			}
			defer client.Close()

			_ = rt.startServer(ctx)
			defer rt.close()

			r := &repl{
				session:  agent.NewSession(assistant),
				server:   rt.server,
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
				prompt:   logging.IsTerminal(os.Stdin),
				provider: client.Provider(),
				model:    client.Model(),
			}
			return r.run(ctx)
		},
	}
}

// chatServer is what the chat commands need from the MCP server.
type chatServer interface {
	IsReady() bool
	Status() mcp.Status
	Restart(ctx context.Context) error
	Tools() []mcp.Tool
	Resources() []mcp.Resource
}

// repl is the line-oriented chat loop.
type repl struct {
	session  *agent.Session
	server   chatServer
	in       io.Reader
	out      io.Writer
	prompt   bool
	provider string
	model    string
}

// run reads lines until quit, end of input or ctx is done.
func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	r.banner()
	for {
		r.showPrompt()
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if !r.handle(ctx, strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

func (r *repl) banner() {
	fmt.Fprintf(r.out, "mcpbridge chat (%s - %s)\n", strings.ToUpper(r.provider), r.model)
	if r.server.IsReady() {
		fmt.Fprintf(r.out, "MCP server connected with %d tools.\n", len(r.server.Tools()))
	} else {
		fmt.Fprintln(r.out, "MCP server not connected; answers will come from the model alone.")
	}
	fmt.Fprintln(r.out, "Commands: tools, resources, status, restart, clear, quit.")
}

func (r *repl) showPrompt() {
	if r.prompt {
		fmt.Fprint(r.out, "> ")
	}
}

// handle runs one line and reports whether the loop should continue.
func (r *repl) handle(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "":
	case "quit", "exit", "bye":
		fmt.Fprintln(r.out, "Goodbye.")
		return false
	case "clear":
		r.session.Reset()
		fmt.Fprintln(r.out, "Conversation history cleared.")
	case "tools":
		if !r.server.IsReady() {
			fmt.Fprintln(r.out, "MCP server not connected.")
			break
		}
		printTools(r.out, r.server.Tools())
	case "resources":
		if !r.server.IsReady() {
			fmt.Fprintln(r.out, "MCP server not connected.")
			break
		}
		printResources(r.out, r.server.Resources())
	case "status":
		printStatus(r.out, r.server.Status())
	case "restart":
		fmt.Fprintln(r.out, "Restarting MCP server...")
		if err := r.server.Restart(ctx); err != nil {
			fmt.Fprintf(r.out, "Restart failed: %v\n", err)
			break
		}
		fmt.Fprintf(r.out, "MCP server restarted with %d tools.\n", len(r.server.Tools()))
	default:
		reply := r.session.Ask(ctx, line)
		fmt.Fprintln(r.out, reply.Text)
		if reply.Tool != "" {
			fmt.Fprintf(r.out, "(used %s in %s)\n", reply.Tool, reply.Elapsed.Round(time.Millisecond))
		}
	}
	return true
}
