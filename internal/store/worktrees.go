package store

import (
	"database/sql"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

type worktreeRow struct {
	Path         string `db:"path"`
	RelativePath string `db:"relative_path"`
	Branch       string `db:"branch"`
	Head         string `db:"head"`
	IsMain       bool   `db:"is_main"`
	State        string `db:"state"`
	AgentName    string `db:"agent_name"`
	TaskID       string `db:"task_id"`
	CreatedAt    string `db:"created_at"`
}

func (r *worktreeRow) toWorktree() *types.WorktreeRecord {
	return &types.WorktreeRecord{
		Path:         r.Path,
		RelativePath: r.RelativePath,
		Branch:       r.Branch,
		Head:         r.Head,
		IsMain:       r.IsMain,
		State:        types.WorktreeState(r.State),
		AgentName:    r.AgentName,
		TaskID:       types.ElementId(r.TaskID),
		CreatedAt:    parseTime(r.CreatedAt),
	}
}

// CreateWorktree inserts a new worktree record.
func (s *Store) CreateWorktree(w *types.WorktreeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO worktrees (path, relative_path, branch, head, is_main, state, agent_name, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Path, w.RelativePath, w.Branch, w.Head, w.IsMain, string(w.State), w.AgentName,
		string(w.TaskID), w.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return elemerr.Conflict("worktree already registered at %s", w.Path)
	}
	return nil
}

// UpdateWorktreeState transitions path's state and refreshes head,
// rejecting transitions the state machine does not allow.
func (s *Store) UpdateWorktreeState(path string, state types.WorktreeState, head string) error {
	current, err := s.GetWorktree(path)
	if err != nil {
		return err
	}
	if !current.State.CanTransition(state) {
		return elemerr.InvalidState("worktree %s cannot transition %s -> %s", path, current.State, state)
	}
	res, err := s.db.Exec(`UPDATE worktrees SET state = ?, head = ? WHERE path = ?`, string(state), head, path)
	if err != nil {
		return elemerr.Internal(err, "update worktree state for %s", path)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("worktree", path)
	}
	return nil
}

// GetWorktree loads a worktree by its absolute path.
func (s *Store) GetWorktree(path string) (*types.WorktreeRecord, error) {
	var row worktreeRow
	err := s.db.Get(&row, `SELECT * FROM worktrees WHERE path = ?`, path)
	if err == sql.ErrNoRows {
		return nil, elemerr.NotFound("worktree", path)
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load worktree %s", path)
	}
	return row.toWorktree(), nil
}

// ListWorktrees returns every tracked worktree.
func (s *Store) ListWorktrees() ([]*types.WorktreeRecord, error) {
	var rows []worktreeRow
	if err := s.db.Select(&rows, `SELECT * FROM worktrees ORDER BY created_at ASC`); err != nil {
		return nil, elemerr.Internal(err, "list worktrees")
	}
	out := make([]*types.WorktreeRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toWorktree())
	}
	return out, nil
}

// DeleteWorktree removes path's tracking record.
func (s *Store) DeleteWorktree(path string) error {
	res, err := s.db.Exec(`DELETE FROM worktrees WHERE path = ?`, path)
	if err != nil {
		return elemerr.Internal(err, "delete worktree %s", path)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("worktree", path)
	}
	return nil
}
