// Package toolserver exposes an Alfresco repository as an MCP server.
//
// The server is built on the MCP go-sdk and is normally run over stdio by
// the alfresco-mcp binary, which is in turn spawned by mcpbridge as its
// child process. Every tool returns a short human readable summary as text
// content and the full result as structured content.
package toolserver
