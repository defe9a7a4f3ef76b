package agent

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Intent actions.
const (
	ActionCallTool = "call_tool"
	ActionNoTool   = "no_tool"
)

// ErrNoIntent is returned when a model reply holds no JSON object.
var ErrNoIntent = errors.New("agent: no intent object in reply")

// Intent is the model's decision about which tool to call.
type Intent struct {
	Action      string
	ToolName    string
	Arguments   map[string]any
	Explanation string
}

// ParseIntent extracts the first JSON object from a model reply. Markdown
// code fences and surrounding prose are ignored.
func ParseIntent(reply string) (Intent, error) {
	obj, ok := firstObject(stripFences(reply))
	if !ok || !gjson.Valid(obj) {
		return Intent{}, ErrNoIntent
	}
	res := gjson.Parse(obj)

	intent := Intent{
		Action:      strings.TrimSpace(res.Get("action").String()),
		ToolName:    strings.TrimSpace(res.Get("tool_name").String()),
		Explanation: res.Get("explanation").String(),
	}
	if args, ok := res.Get("arguments").Value().(map[string]any); ok {
		intent.Arguments = args
	}
	if intent.Action == "" && intent.ToolName != "" {
		intent.Action = ActionCallTool
	}
	return intent, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

// firstObject returns the first balanced {...} in s, skipping braces inside
// JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
