package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	sse "github.com/tmaxmax/go-sse"

	"github.com/dshills/mcpbridge/internal/mcp"
)

// emptyQuestionHint answers a request whose last message is blank.
const emptyQuestionHint = "Please tell me what you would like to do in the Alfresco repository."

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, APIError{Error: APIErrorDetail{Message: message, Type: kind}})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "unavailable", State: "none", Timestamp: g.now().UTC()}
	if g.backend != nil {
		h.State = g.backend.Status().State
		h.Healthy = g.backend.IsReady()
		h.Status = "degraded"
		if h.Healthy {
			h.Status = "healthy"
		}
	}
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (g *Gateway) handleTools(w http.ResponseWriter, _ *http.Request) {
	tools := []ToolInfo{}
	if g.backend != nil && g.backend.IsReady() {
		for _, tool := range g.backend.Tools() {
			info := ToolInfo{Name: tool.Name, Description: tool.Description, Parameters: []string{}}
			if info.Description == "" {
				info.Description = "No description"
			}
			for _, p := range tool.Parameters() {
				info.Parameters = append(info.Parameters, p.Name)
			}
			tools = append(tools, info)
		}
	}
	writeJSON(w, http.StatusOK, tools)
}

type statusBody struct {
	Connected bool        `json:"connected"`
	Provider  string      `json:"provider,omitempty"`
	Model     string      `json:"model,omitempty"`
	Server    *mcp.Status `json:"server,omitempty"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := statusBody{Provider: g.provider, Model: g.model}
	if g.backend != nil {
		status := g.backend.Status()
		body.Server = &status
		body.Connected = g.backend.IsReady()
	}
	writeJSON(w, http.StatusOK, body)
}

func (g *Gateway) handleRestart(w http.ResponseWriter, r *http.Request) {
	if g.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no MCP server is configured")
		return
	}
	if err := g.backend.Restart(r.Context()); err != nil {
		g.logger.Error().Err(err).Msg("restart requested over HTTP failed")
		writeError(w, http.StatusInternalServerError, "restart_failed", err.Error())
		return
	}
	status := g.backend.Status()
	writeJSON(w, http.StatusOK, statusBody{Connected: g.backend.IsReady(), Server: &status})
}

func (g *Gateway) handleModels(w http.ResponseWriter, _ *http.Request) {
	created := g.now().Unix()
	list := ModelList{Object: "list", Data: []Model{{
		ID:      g.modelName,
		Object:  "model",
		Created: created,
		OwnedBy: "mcpbridge",
		Root:    g.modelName,
	}}}
	if g.provider != "" && g.model != "" {
		id := "alfresco-" + g.provider + "-" + g.model
		list.Data = append(list.Data, Model{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: "mcp-" + g.provider,
			Root:    id,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = g.modelName
	}

	content := g.answer(r.Context(), req.Messages)
	if req.Stream {
		g.stream(w, r, req.Model, content)
		return
	}

	finish := finishStop
	prompt := 0
	for _, msg := range req.Messages {
		prompt += countWords(msg.Content)
	}
	completion := countWords(content)
	writeJSON(w, http.StatusOK, ChatCompletion{
		ID:      completionID(),
		Object:  objectCompletion,
		Created: g.now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: &finish,
		}},
		Usage: &Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	})
}

func (g *Gateway) answer(ctx context.Context, messages []ChatMessage) string {
	input, history := splitHistory(messages)
	if strings.TrimSpace(input) == "" {
		return emptyQuestionHint
	}
	if g.chatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.chatTimeout)
		defer cancel()
	}
	reply := g.responder.Respond(ctx, input, history)
	if strings.TrimSpace(reply.Text) == "" {
		return "No answer could be generated. Check the mcpbridge logs for details."
	}
	return reply.Text
}

// stream sends content as chat.completion.chunk events, one word each,
// followed by a stop chunk and [DONE].
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, model, content string) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.Header().Set("Cache-Control", "no-cache")

	id, created := completionID(), g.now().Unix()
	send := func(data string) bool {
		msg := &sse.Message{}
		msg.AppendData(data)
		if err := sess.Send(msg); err != nil {
			g.logger.Debug().Err(err).Msg("stream closed by client")
			return false
		}
		return sess.Flush() == nil
	}
	chunk := func(delta *ChatMessage, finish *string) bool {
		data, err := json.Marshal(ChatCompletion{
			ID:      id,
			Object:  objectChunk,
			Created: created,
			Model:   model,
			Choices: []Choice{{Delta: delta, FinishReason: finish}},
		})
		if err != nil {
			return false
		}
		return send(string(data))
	}

	if !chunk(&ChatMessage{Role: "assistant"}, nil) {
		return
	}
	for _, word := range strings.SplitAfter(content, " ") {
		if word == "" {
			continue
		}
		if !chunk(&ChatMessage{Content: word}, nil) {
			return
		}
	}
	finish := finishStop
	if chunk(&ChatMessage{}, &finish) {
		send("[DONE]")
	}
}
