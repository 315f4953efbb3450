package store

import (
	"database/sql"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

type blockedRow struct {
	ElementID string `db:"element_id"`
	BlockedBy string `db:"blocked_by"`
	Reason    string `db:"reason"`
}

func (r *blockedRow) toEntry() *types.BlockedEntry {
	return &types.BlockedEntry{
		ElementID: types.ElementId(r.ElementID),
		BlockedBy: types.ElementId(r.BlockedBy),
		Reason:    r.Reason,
	}
}

// UpsertBlocked writes or replaces the blocked-cache row for entry.ElementID.
func (s *Store) UpsertBlocked(entry *types.BlockedEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO blocked_cache (element_id, blocked_by, reason) VALUES (?, ?, ?)
		ON CONFLICT(element_id) DO UPDATE SET blocked_by=excluded.blocked_by, reason=excluded.reason`,
		string(entry.ElementID), string(entry.BlockedBy), entry.Reason,
	)
	if err != nil {
		return elemerr.Internal(err, "upsert blocked cache row for %s", entry.ElementID)
	}
	return nil
}

// DeleteBlocked removes id's blocked-cache row, if any. A no-op if id is
// not currently blocked.
func (s *Store) DeleteBlocked(id types.ElementId) error {
	if _, err := s.db.Exec(`DELETE FROM blocked_cache WHERE element_id = ?`, string(id)); err != nil {
		return elemerr.Internal(err, "delete blocked cache row for %s", id)
	}
	return nil
}

// GetBlocked returns id's blocked-cache entry, or (nil, nil) if id is not blocked.
func (s *Store) GetBlocked(id types.ElementId) (*types.BlockedEntry, error) {
	var row blockedRow
	err := s.db.Get(&row, `SELECT * FROM blocked_cache WHERE element_id = ?`, string(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load blocked cache row for %s", id)
	}
	return row.toEntry(), nil
}

// ListBlocked returns every current blocked-cache entry.
func (s *Store) ListBlocked() ([]*types.BlockedEntry, error) {
	var rows []blockedRow
	if err := s.db.Select(&rows, `SELECT * FROM blocked_cache`); err != nil {
		return nil, elemerr.Internal(err, "list blocked cache")
	}
	out := make([]*types.BlockedEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntry())
	}
	return out, nil
}

// ClearBlocked empties the cache entirely (step 1 of a full rebuild).
func (s *Store) ClearBlocked() error {
	if _, err := s.db.Exec(`DELETE FROM blocked_cache`); err != nil {
		return elemerr.Internal(err, "clear blocked cache")
	}
	return nil
}
