package mcp

import "errors"

// Errors returned by the MCP client and supervisor.
var (
	// ErrUnknownTool indicates a tool name that discovery did not report.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNotDiscovered indicates an operation that needs a completed discovery.
	ErrNotDiscovered = errors.New("server capabilities not discovered")

	// ErrSupervisorRunning indicates Start was called twice.
	ErrSupervisorRunning = errors.New("supervisor already running")

	// ErrSupervisorStopped indicates the supervisor was stopped.
	ErrSupervisorStopped = errors.New("supervisor stopped")
)
