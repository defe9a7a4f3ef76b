// Package gateway serves the assistant over an OpenAI compatible HTTP API
// so chat front ends such as Open WebUI can use it as a model, alongside
// health, status and control endpoints for the supervised MCP server.
package gateway
