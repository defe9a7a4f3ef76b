// Package agent answers user questions with a language model, calling MCP
// tools on the way when the model decides one is needed.
//
// A question is handled in two steps. First the model is shown the tool
// list and asked for a strict JSON intent naming a tool and its arguments;
// if it picks one, the tool is called and its output kept. Then the model is
// asked the question again with the connection status, recent turns and the
// tool output in the prompt, and its answer is the reply.
//
// Failures never escape as errors: a tool or model failure becomes a reply
// that says what could not be done.
package agent
