package store

import (
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

type messageRow struct {
	ID         string `db:"id"`
	SessionID  string `db:"session_id"`
	Type       string `db:"type"`
	Content    string `db:"content"`
	ToolName   string `db:"tool_name"`
	ToolInput  string `db:"tool_input"`
	ToolOutput string `db:"tool_output"`
	CreatedAt  string `db:"created_at"`
}

func (r *messageRow) toMessage() *types.Message {
	return &types.Message{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Type:       types.MessageType(r.Type),
		Content:    r.Content,
		ToolName:   r.ToolName,
		ToolInput:  r.ToolInput,
		ToolOutput: r.ToolOutput,
		CreatedAt:  parseTime(r.CreatedAt),
	}
}

// InsertMessage persists a message record derived from a session event
// Out-of-band from subscriber delivery: callers should
// not block the event publisher on this call.
func (s *Store) InsertMessage(m *types.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, type, content, tool_name, tool_input, tool_output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Type), m.Content, m.ToolName, m.ToolInput, m.ToolOutput,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return elemerr.Internal(err, "insert message %s", m.ID)
	}
	return nil
}

// ListMessages returns messages for sessionID created after the given
// timestamp (zero value returns the full history), ordered oldest-first.
func (s *Store) ListMessages(sessionID string, after time.Time) ([]*types.Message, error) {
	var rows []messageRow
	err := s.db.Select(&rows, `
		SELECT * FROM messages WHERE session_id = ? AND created_at > ?
		ORDER BY created_at ASC`,
		sessionID, after.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, elemerr.Internal(err, "list messages for session %s", sessionID)
	}
	out := make([]*types.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toMessage())
	}
	return out, nil
}
