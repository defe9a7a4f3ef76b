// Package transport runs an MCP server as a child process and exchanges
// line-delimited JSON-RPC 2.0 messages with it.
//
// A Transport owns one child at a time. Two goroutines drain the child's
// output: the primary reader decodes stdout and routes replies to the
// pending-call table, notifications to the registered handler and server
// requests to a small built-in responder; the diagnostic reader copies
// stderr into the log line by line.
//
//	tr := transport.New(transport.WithLogger(logger))
//	err := tr.Start(ctx, transport.Launch{
//	    Name: "alfresco",
//	    Spec: process.Spec{Command: "alfresco-mcp"},
//	})
//	...
//	result, err := tr.Call(ctx, "tools/list", nil, 5*time.Second)
//
// # Lifecycle
//
// NotStarted → Starting → Ready → Degraded → Stopped. Start spawns the child
// and performs the initialize handshake; only a Ready transport accepts
// calls. When the child's stdout ends while Ready, the transport becomes
// Degraded and every pending call fails with ErrTransportClosed. Shutdown
// moves to Stopped; Restart goes back through Starting with the same launch
// parameters.
//
// # Timeouts
//
// A call that times out is removed from the pending table and reported as
// ErrTimeout. Nothing is sent to the child, so the request may still take
// effect there; a reply arriving afterwards is logged and counted as
// unmatched. Delivery is best effort and each outcome is observed at most
// once.
package transport
