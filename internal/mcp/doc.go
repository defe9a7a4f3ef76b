// Package mcp is the MCP client session built on top of the stdio transport.
//
// Client lists and caches the tools, resources and prompts a server offers
// and invokes them. Supervisor owns the transport for one server, restarts
// the child with exponential backoff when it dies and re-runs discovery
// once it is back.
//
// Basic usage:
//
//	sup := mcp.NewSupervisor(launch, mcp.DefaultSupervisorConfig(),
//		mcp.WithLogger(logger))
//	if err := sup.Start(ctx); err != nil {
//		return err
//	}
//	defer sup.Stop(context.Background())
//
//	res, err := sup.Client().CallTool(ctx, "list_root_children", map[string]any{"max_items": 10})
package mcp
