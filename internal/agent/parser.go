package agent

import (
	"encoding/json"
	"strings"
)

// rawLine mirrors the child's stream-json line shape. Claude's CLI emits
// one of these per line on stdout.
type rawLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *rawMessage     `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type rawMessage struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// parseLine parses one line of child output into an Event, plus the
// resumption cookie if the line carried one. Lines that aren't valid
// JSON are surfaced as a diagnostic system event rather than dropped,
// mirroring the child's own tolerance for stray banner/log output on its
// stdout.
func parseLine(line string) (ev *Event, claudeSessionID string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ""
	}
	if !strings.HasPrefix(line, "{") {
		return &Event{Type: EventSystem, Message: line}, ""
	}

	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return &Event{Type: EventSystem, Message: line}, ""
	}

	ev = &Event{Raw: json.RawMessage(line)}
	switch raw.Type {
	case "system":
		ev.Type = EventSystem
	case "result":
		ev.Type = EventResult
		ev.Message = raw.Result
	case "error":
		ev.Type = EventError
		ev.Message = raw.Error
	case "assistant", "user":
		ev.Type = EventType(raw.Type)
		if raw.Message != nil {
			applyContent(ev, raw.Message.Content)
		}
	default:
		ev.Type = EventSystem
		ev.Message = line
	}
	return ev, raw.SessionID
}

// applyContent flattens a message's content field (a bare string, or an
// array of typed blocks) onto ev, overriding ev.Type from assistant/user
// to tool_use/tool_result when the content carries a tool block.
func applyContent(ev *Event, content json.RawMessage) {
	if len(content) == 0 {
		return
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		ev.Message = asString
		return
	}

	var blocks []rawBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return
	}

	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			ev.Tool = &ToolCall{Name: b.Name, Input: b.Input}
			ev.Type = EventToolUse
		case "tool_result":
			ev.ToolOutput = flattenToolResult(b.Content)
			ev.Type = EventToolResult
		}
	}
	if len(texts) > 0 {
		ev.Message = strings.Join(texts, "\n")
	}
}

// flattenToolResult handles a tool_result block's content, which the
// child may send as a bare string or as a nested array of text blocks.
func flattenToolResult(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		return asString
	}
	var blocks []rawBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return string(content)
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}
