package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/alfresco"
)

// ErrorEnvelope is the JSON body of a failed tool call's text content.
type ErrorEnvelope struct {
	Code       string `json:"error_code"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Retryable  bool   `json:"retryable"`
}

type toolError struct {
	Envelope ErrorEnvelope
}

func (e toolError) Error() string {
	encoded, err := json.Marshal(map[string]any{"error": e.Envelope})
	if err != nil {
		return `{"error":{"error_code":"tool_error","retryable":false}}`
	}
	return string(encoded)
}

// withToolErrors turns handler errors into a structured envelope so the
// client sees a stable error code instead of free text.
func withToolErrors[In, Out any](logger zerolog.Logger, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, in)
		if err == nil {
			logger.Debug().Str("tool", name).Msg("tool call succeeded")
			return res, out, nil
		}
		env := classify(err)
		logger.Warn().Err(err).Str("tool", name).Str("error_code", env.Code).Msg("tool call failed")
		var zero Out
		return nil, zero, toolError{Envelope: env}
	}
}

func classify(err error) ErrorEnvelope {
	env := ErrorEnvelope{Code: "tool_error", Detail: strings.TrimSpace(err.Error())}

	var apiErr *alfresco.APIError
	switch {
	case errors.As(err, &apiErr):
		env.HTTPStatus = apiErr.StatusCode
		if apiErr.Summary != "" {
			env.Detail = apiErr.Summary
		}
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			env.Code = "not_found"
		case http.StatusConflict:
			env.Code = "conflict"
		case http.StatusUnauthorized, http.StatusForbidden:
			env.Code = "permission_denied"
		default:
			env.Code = "http_" + strconv.Itoa(apiErr.StatusCode)
		}
		env.Retryable = apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	case errors.Is(err, alfresco.ErrNotFound):
		env.Code = "not_found"
	case errors.Is(err, alfresco.ErrInvalidArgument):
		env.Code = "invalid_argument"
	case errors.Is(err, context.DeadlineExceeded):
		env.Code = "timeout"
		env.Retryable = true
	}
	return env
}
