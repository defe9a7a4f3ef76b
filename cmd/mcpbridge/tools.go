package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/mcpbridge/internal/mcp"
)

func newToolsCommand(global *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Start the MCP server and list its tools, resources and prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := startForCommand(cmd, global)
			if err != nil {
				return err
			}
			defer rt.close()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Tools     []mcp.Tool     `json:"tools"`
					Resources []mcp.Resource `json:"resources"`
					Prompts   []mcp.Prompt   `json:"prompts"`
				}{rt.server.Tools(), rt.server.Resources(), rt.server.Prompts()})
			}
			printTools(out, rt.server.Tools())
			printResources(out, rt.server.Resources())
			printPrompts(out, rt.server.Prompts())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func newCallCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Call one tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(args[1:])
			if err != nil {
				return err
			}
			rt, err := startForCommand(cmd, global)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.server.CallTool(cmd.Context(), args[0], toolArgs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Text())
			if result.IsError {
				return fmt.Errorf("tool %s reported an error", args[0])
			}
			return nil
		},
	}
}

// startForCommand loads the configuration and starts the MCP server for a
// one-shot command. A server that does not start is an error here.
func startForCommand(cmd *cobra.Command, global *globalOptions) (*runtime, error) {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogging(os.Stderr, cfg)
	if err != nil {
		return nil, err
	}
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := rt.startServer(cmd.Context()); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// parseToolArgs accepts an optional JSON object.
func parseToolArgs(args []string) (json.RawMessage, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return json.RawMessage(`{}`), nil
	}
	raw := json.RawMessage(strings.TrimSpace(args[0]))
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("tool arguments must be a JSON object, got null")
	}
	return raw, nil
}

func printTools(w io.Writer, tools []mcp.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return
	}
	fmt.Fprintf(w, "Tools (%d):\n", len(tools))
	for _, tool := range tools {
		desc := tool.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(w, "  - %s: %s\n", tool.Name, desc)
		for _, p := range tool.Parameters() {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(w, "      %s (%s%s)", p.Name, orDefault(p.Type, "any"), req)
			if p.Description != "" {
				fmt.Fprintf(w, ": %s", p.Description)
			}
			fmt.Fprintln(w)
		}
	}
}

func printResources(w io.Writer, resources []mcp.Resource) {
	if len(resources) == 0 {
		fmt.Fprintln(w, "No resources available.")
		return
	}
	fmt.Fprintf(w, "Resources (%d):\n", len(resources))
	for _, r := range resources {
		fmt.Fprintf(w, "  - %s (%s)\n", orDefault(r.Name, r.URI), r.URI)
	}
}

func printPrompts(w io.Writer, prompts []mcp.Prompt) {
	if len(prompts) == 0 {
		fmt.Fprintln(w, "No prompts available.")
		return
	}
	fmt.Fprintf(w, "Prompts (%d):\n", len(prompts))
	for _, p := range prompts {
		fmt.Fprintf(w, "  - %s: %s\n", p.Name, orDefault(p.Description, "No description"))
	}
}

func printStatus(w io.Writer, st mcp.Status) {
	fmt.Fprintf(w, "Server:    %s\n", orDefault(st.Server, "none"))
	fmt.Fprintf(w, "State:     %s\n", st.State)
	fmt.Fprintf(w, "Ready:     %t\n", st.Ready)
	if st.PID > 0 {
		fmt.Fprintf(w, "PID:       %d\n", st.PID)
	}
	fmt.Fprintf(w, "Restarts:  %d\n", st.Restarts)
	fmt.Fprintf(w, "Tools:     %d\n", len(st.Tools))
	fmt.Fprintf(w, "Resources: %d\n", st.Resources)
	fmt.Fprintf(w, "Prompts:   %d\n", st.Prompts)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
