// Package jsonrpc implements the line-delimited JSON-RPC 2.0 framing used to
// talk to MCP servers over a child process's standard streams.
//
// Every frame is a single JSON object terminated by a newline. Encoding never
// produces raw newlines inside a frame because the JSON encoder escapes them in
// strings. Decoding classifies a line as a reply, a notification, or a request
// issued by the server; anything else is a *DecodeError that the caller is
// expected to log and skip.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Kind identifies the shape of a decoded message.
type Kind int

const (
	// KindReply is a response to a request we issued.
	KindReply Kind = iota
	// KindNotification is an unsolicited message without an id.
	KindNotification
	// KindRequest is a request issued by the server that expects an answer.
	KindRequest
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindNotification:
		return "notification"
	case KindRequest:
		return "request"
	default:
		return "unknown"
	}
}

// Request is an outbound call. An empty ID makes it a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the outbound shape used when answering server requests.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Message is a decoded inbound frame.
type Message struct {
	Kind Kind

	// ID is the normalised identifier (string ids verbatim, numeric ids in
	// their decimal form). Empty for notifications.
	ID string

	// RawID preserves the identifier exactly as sent, for echoing back.
	RawID json.RawMessage

	Method string
	Params json.RawMessage

	Result json.RawMessage
	Error  *Error
}

// Error is a JSON-RPC error object. It is returned verbatim to callers when
// the server answers a request with an error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeError describes a line that could not be understood. It is never
// fatal to a connection.
type DecodeError struct {
	Line   string
	Reason string
	Err    error
}

const maxErrorLine = 200

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Line, e.Reason)
}

// Unwrap returns the underlying parse error, if any.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(line []byte, reason string, err error) *DecodeError {
	s := string(line)
	if len(s) > maxErrorLine {
		s = s[:maxErrorLine] + "..."
	}
	return &DecodeError{Line: s, Reason: reason, Err: err}
}

// EncodeRequest encodes a request frame, including the trailing newline.
func EncodeRequest(id, method string, params any) ([]byte, error) {
	if id == "" {
		return nil, errors.New("jsonrpc: request id must not be empty")
	}
	return encode(&Request{JSONRPC: Version, ID: id, Method: method, Params: params})
}

// EncodeNotification encodes a notification frame (no id).
func EncodeNotification(method string, params any) ([]byte, error) {
	return encode(&Request{JSONRPC: Version, Method: method, Params: params})
}

// EncodeResult encodes a successful answer to a server request.
func EncodeResult(id json.RawMessage, result any) ([]byte, error) {
	if result == nil {
		result = struct{}{}
	}
	return encode(&response{JSONRPC: Version, ID: id, Result: result})
}

// EncodeError encodes an error answer to a server request.
func EncodeError(id json.RawMessage, rpcErr *Error) ([]byte, error) {
	return encode(&response{JSONRPC: Version, ID: id, Error: rpcErr})
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return append(data, '\n'), nil
}

// envelope is the union of every field a frame may carry.
type envelope struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Decode parses one line. Leading and trailing whitespace is ignored.
func Decode(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, newDecodeError(line, "empty line", nil)
	}
	if line[0] != '{' {
		return nil, newDecodeError(line, "not a JSON object", nil)
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, newDecodeError(line, "invalid JSON", err)
	}
	if env.JSONRPC != nil && *env.JSONRPC != Version {
		return nil, newDecodeError(line, "unsupported jsonrpc version "+strconv.Quote(*env.JSONRPC), nil)
	}

	hasID := len(env.ID) > 0 && !bytes.Equal(env.ID, []byte("null"))
	var id string
	if hasID {
		var err error
		id, err = normalizeID(env.ID)
		if err != nil {
			return nil, newDecodeError(line, "invalid id", err)
		}
	}

	switch {
	case env.Method != nil && *env.Method != "":
		msg := &Message{Method: *env.Method, Params: env.Params}
		if hasID {
			msg.Kind = KindRequest
			msg.ID = id
			msg.RawID = env.ID
		} else {
			msg.Kind = KindNotification
		}
		return msg, nil

	case hasID:
		if len(env.Result) == 0 && env.Error == nil {
			return nil, newDecodeError(line, "reply has neither result nor error", nil)
		}
		return &Message{Kind: KindReply, ID: id, RawID: env.ID, Result: env.Result, Error: env.Error}, nil

	default:
		return nil, newDecodeError(line, "message has neither id nor method", nil)
	}
}

// normalizeID turns a string or numeric id into its canonical string form.
func normalizeID(raw json.RawMessage) (string, error) {
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}
