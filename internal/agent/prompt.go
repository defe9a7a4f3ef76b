package agent

import (
	"fmt"
	"strings"

	"github.com/dshills/mcpbridge/internal/mcp"
)

// Turn is one question and its answer.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// promptContextTurns is how many recent turns are quoted in a prompt.
const promptContextTurns = 2

func intentPrompt(tools []mcp.Tool, input string) string {
	var b strings.Builder
	b.WriteString("Decide which MCP tool, if any, should be called to handle the request below and with which arguments.\n\n")
	b.WriteString("Available MCP tools:\n")
	for _, tool := range tools {
		desc := tool.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, desc)
		if params := tool.Parameters(); len(params) > 0 {
			names := make([]string, len(params))
			for i, p := range params {
				names[i] = p.Name
				if p.Required {
					names[i] += " (required)"
				}
			}
			fmt.Fprintf(&b, "  Parameters: %s\n", strings.Join(names, ", "))
		}
	}
	fmt.Fprintf(&b, "\nUser request: %s\n\n", input)
	b.WriteString(`Answer with strict JSON only:
{
    "action": "call_tool",
    "tool_name": "name_of_the_tool",
    "arguments": {"param1": "value1"},
    "explanation": "what the call does"
}

Or, if no tool is needed:
{
    "action": "no_tool",
    "explanation": "why no MCP tool is needed"
}

IMPORTANT: reply with the JSON object only, no other text.`)
	return b.String()
}

// promptInfo describes the environment quoted in the answer prompt.
type promptInfo struct {
	Connected bool
	Provider  string
	Model     string
	ToolNames []string
}

func writeContext(b *strings.Builder, history []Turn) {
	if len(history) == 0 {
		return
	}
	if len(history) > promptContextTurns {
		history = history[len(history)-promptContextTurns:]
	}
	b.WriteString("\nPrevious context:\n")
	for _, turn := range history {
		fmt.Fprintf(b, "User: %s\nAI: %s\n", turn.User, turn.Assistant)
	}
}

func enhancedPrompt(info promptInfo, history []Turn, toolResults, input string) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant specialised in the Alfresco document management system, with access to MCP tools over stdio.\n\n")
	if info.Connected {
		b.WriteString("MCP connection: connected via stdio\n")
	} else {
		b.WriteString("MCP connection: disconnected\n")
	}
	fmt.Fprintf(&b, "Model: %s - %s\n", strings.ToUpper(info.Provider), info.Model)
	if len(info.ToolNames) > 0 {
		fmt.Fprintf(&b, "Available MCP tools: %s\n", strings.Join(info.ToolNames, ", "))
	}
	writeContext(&b, history)
	if toolResults != "" {
		fmt.Fprintf(&b, "\n%s\n", toolResults)
	}
	fmt.Fprintf(&b, "\nCurrent question: %s\n", input)
	b.WriteString(`
Instructions:
- If MCP tool results are present, base the answer on them
- Answer concisely and professionally
- Explain which operations were performed
- Do not repeat the context needlessly

Answer:`)
	return b.String()
}

func fallbackPrompt(info promptInfo, history []Turn, input string) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant specialised in the Alfresco document management system.\n\n")
	b.WriteString("The MCP tool server is not available, so the repository cannot be read or changed right now. ")
	b.WriteString("Answer from general knowledge and say clearly when a question needs live repository data.\n")
	fmt.Fprintf(&b, "Model: %s - %s\n", strings.ToUpper(info.Provider), info.Model)
	writeContext(&b, history)
	fmt.Fprintf(&b, "\nCurrent question: %s\n\nAnswer:", input)
	return b.String()
}
