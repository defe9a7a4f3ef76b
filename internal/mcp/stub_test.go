package mcp

import (
	"context"
	"fmt"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// stubEnv makes the re-executed test binary serve MCP over stdio.
const stubEnv = "MCPBRIDGE_TEST_MCP_SERVER"

type echoInput struct {
	Text string `json:"text" jsonschema:"Text to echo back"`
}

type crashInput struct {
	Code int `json:"code,omitempty" jsonschema:"Exit code"`
}

func runStubServer() int {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "stub-mcp", Version: "1.0.0"}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "echo",
		Description: "Echo text back",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in echoInput) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + in.Text}},
		}, nil, nil
	})
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "crash",
		Description: "Exit the server process",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in crashInput) (*mcpsdk.CallToolResult, any, error) {
		fmt.Fprintln(os.Stderr, "stub-mcp: crashing on request")
		os.Exit(3)
		return nil, nil, nil
	})

	server.AddResource(&mcpsdk.Resource{
		URI:      "stub://readme",
		Name:     "readme",
		MIMEType: "text/plain",
	}, func(_ context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
		return &mcpsdk.ReadResourceResult{
			Contents: []*mcpsdk.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello"}},
		}, nil
	})

	server.AddPrompt(&mcpsdk.Prompt{
		Name:      "greet",
		Arguments: []*mcpsdk.PromptArgument{{Name: "name", Required: true}},
	}, func(_ context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
		return &mcpsdk.GetPromptResult{
			Messages: []*mcpsdk.PromptMessage{{
				Role:    "user",
				Content: &mcpsdk.TextContent{Text: "Hello, " + req.Params.Arguments["name"]},
			}},
		}, nil
	})

	fmt.Fprintln(os.Stderr, "stub-mcp: serving on stdio")
	if err := server.Run(context.Background(), &mcpsdk.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "stub-mcp: %v\n", err)
		return 1
	}
	return 0
}
