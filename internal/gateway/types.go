package gateway

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/mcpbridge/internal/agent"
)

// ChatMessage is one message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// Choice is a completion choice.
type Choice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// Usage approximates token counts with word counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is a chat.completion or chat.completion.chunk object.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Model is an entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
	Root    string `json:"root"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ToolInfo is an entry of GET /tools.
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
}

// Health is the body of GET /health.
type Health struct {
	Status    string    `json:"status"`
	Healthy   bool      `json:"healthy"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the OpenAI style error body.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail describes a failed request.
type APIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

const (
	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
	finishStop       = "stop"
)

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// splitHistory returns the last message's content as the question and pairs
// the earlier user and assistant messages into turns.
func splitHistory(messages []ChatMessage) (string, []agent.Turn) {
	if len(messages) == 0 {
		return "", nil
	}
	input := messages[len(messages)-1].Content

	var turns []agent.Turn
	var pending *agent.Turn
	for _, msg := range messages[:len(messages)-1] {
		switch msg.Role {
		case "user":
			if pending != nil {
				turns = append(turns, *pending)
			}
			pending = &agent.Turn{User: msg.Content}
		case "assistant":
			if pending == nil {
				pending = &agent.Turn{}
			}
			pending.Assistant = msg.Content
			turns = append(turns, *pending)
			pending = nil
		}
	}
	if pending != nil {
		turns = append(turns, *pending)
	}
	if len(turns) > agent.MaxHistory {
		turns = turns[len(turns)-agent.MaxHistory:]
	}
	return input, turns
}
