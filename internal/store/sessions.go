package store

import (
	"database/sql"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

type sessionRow struct {
	ID               string         `db:"id"`
	AgentID          string         `db:"agent_id"`
	Mode             string         `db:"mode"`
	Status           string         `db:"status"`
	ClaudeSessionID  string         `db:"claude_session_id"`
	StartedAt        string         `db:"started_at"`
	TerminatedAt     sql.NullString `db:"terminated_at"`
	WorkingDirectory string         `db:"working_directory"`
	WorktreePath     string         `db:"worktree_path"`
	PID              sql.NullInt64  `db:"pid"`
	ExitCode         sql.NullInt64  `db:"exit_code"`
	ExitSignal       sql.NullInt64  `db:"exit_signal"`
	InitialPrompt    string         `db:"initial_prompt"`
}

func (r *sessionRow) toSession() *types.SessionRecord {
	rec := &types.SessionRecord{
		ID:               r.ID,
		AgentID:          types.ElementId(r.AgentID),
		Mode:             types.SessionMode(r.Mode),
		Status:           types.SessionStatus(r.Status),
		ClaudeSessionID:  r.ClaudeSessionID,
		StartedAt:        parseTime(r.StartedAt),
		WorkingDirectory: r.WorkingDirectory,
		WorktreePath:     r.WorktreePath,
		InitialPrompt:    r.InitialPrompt,
	}
	rec.TerminatedAt = parseNullTime(r.TerminatedAt)
	if r.PID.Valid {
		pid := int(r.PID.Int64)
		rec.PID = &pid
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int64)
		rec.ExitCode = &code
	}
	if r.ExitSignal.Valid {
		sig := int(r.ExitSignal.Int64)
		rec.ExitSignal = &sig
	}
	return rec
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(rec *types.SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, agent_id, mode, status, claude_session_id, started_at, terminated_at,
			working_directory, worktree_path, pid, exit_code, exit_signal, initial_prompt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.AgentID), string(rec.Mode), string(rec.Status), rec.ClaudeSessionID,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), formatTimePtr(rec.TerminatedAt),
		rec.WorkingDirectory, rec.WorktreePath, optionalInt(rec.PID), optionalInt(rec.ExitCode),
		optionalInt(rec.ExitSignal), rec.InitialPrompt,
	)
	if err != nil {
		return elemerr.Internal(err, "insert session %s", rec.ID)
	}
	return nil
}

func optionalInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// UpdateSession persists the full current state of rec.
func (s *Store) UpdateSession(rec *types.SessionRecord) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET status=?, claude_session_id=?, terminated_at=?, pid=?, exit_code=?, exit_signal=?
		WHERE id=?`,
		string(rec.Status), rec.ClaudeSessionID, formatTimePtr(rec.TerminatedAt),
		optionalInt(rec.PID), optionalInt(rec.ExitCode), optionalInt(rec.ExitSignal), rec.ID,
	)
	if err != nil {
		return elemerr.Internal(err, "update session %s", rec.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("session", rec.ID)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(id string) (*types.SessionRecord, error) {
	var row sessionRow
	err := s.db.Get(&row, `SELECT * FROM sessions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, elemerr.NotFound("session", id)
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load session %s", id)
	}
	return row.toSession(), nil
}

// SessionFilter restricts ListSessions results.
type SessionFilter struct {
	AgentID types.ElementId
	Status  types.SessionStatus
}

// ListSessions returns sessions matching filter, most recent first.
func (s *Store) ListSessions(filter SessionFilter) ([]*types.SessionRecord, error) {
	query := `SELECT * FROM sessions WHERE 1=1`
	var args []any
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, string(filter.AgentID))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC"

	var rows []sessionRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, elemerr.Internal(err, "list sessions")
	}
	out := make([]*types.SessionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSession())
	}
	return out, nil
}

// GetActiveSession returns the session for agentId whose status is one of
// starting/running/terminating (there is at most one per agent).
func (s *Store) GetActiveSession(agentID types.ElementId) (*types.SessionRecord, error) {
	var row sessionRow
	err := s.db.Get(&row, `
		SELECT * FROM sessions WHERE agent_id = ? AND status IN ('starting', 'running', 'terminating')
		ORDER BY started_at DESC LIMIT 1`, string(agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load active session for agent %s", agentID)
	}
	return row.toSession(), nil
}

// GetMostRecentResumableSession returns the most recent terminated session
// for agentID that captured a resumption cookie.
func (s *Store) GetMostRecentResumableSession(agentID types.ElementId) (*types.SessionRecord, error) {
	var row sessionRow
	err := s.db.Get(&row, `
		SELECT * FROM sessions
		WHERE agent_id = ? AND status = 'terminated' AND claude_session_id != ''
		ORDER BY started_at DESC LIMIT 1`, string(agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load resumable session for agent %s", agentID)
	}
	return row.toSession(), nil
}

// GetSessionByClaudeID finds a terminated session by its resumption cookie.
func (s *Store) GetSessionByClaudeID(agentID types.ElementId, claudeSessionID string) (*types.SessionRecord, error) {
	var row sessionRow
	err := s.db.Get(&row, `
		SELECT * FROM sessions WHERE agent_id = ? AND claude_session_id = ?
		ORDER BY started_at DESC LIMIT 1`, string(agentID), claudeSessionID)
	if err == sql.ErrNoRows {
		return nil, elemerr.NotFound("resumable session", claudeSessionID)
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load session by claude id %s", claudeSessionID)
	}
	return row.toSession(), nil
}
