package agent

import (
	"time"

	"github.com/elemental/daemon/pkg/types"
)

// toMessage derives a persisted Message from ev. No message is derived
// for system or result events. toolInput is already
// serialized JSON (it was decoded from one); non-serializable/absent
// input falls back to an empty string rather than a decode error.
func toMessage(sessionID string, ev *Event, now time.Time) *types.Message {
	if ev.Type == EventSystem || ev.Type == EventResult {
		return nil
	}

	m := &types.Message{
		ID:        ev.MsgID,
		SessionID: sessionID,
		Type:      types.MessageType(ev.Type),
		Content:   ev.Message,
		CreatedAt: now,
	}
	if ev.Tool != nil {
		m.ToolName = ev.Tool.Name
		if len(ev.Tool.Input) > 0 {
			m.ToolInput = string(ev.Tool.Input)
		}
	}
	if ev.Type == EventToolResult {
		m.ToolOutput = ev.ToolOutput
		m.Content = ""
	}
	return m
}

// initialPromptMessage builds the synthetic user message persisted the
// moment a session starts with an initial prompt.
func initialPromptMessage(sessionID, prompt string, now time.Time) *types.Message {
	return &types.Message{
		ID:        "user-" + sessionID + "-initial",
		SessionID: sessionID,
		Type:      types.MessageUser,
		Content:   prompt,
		CreatedAt: now,
	}
}
