package store

import (
	"encoding/json"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

type dependencyRow struct {
	SourceID  string `db:"source_id"`
	TargetID  string `db:"target_id"`
	Type      string `db:"type"`
	Metadata  string `db:"metadata"`
	CreatedBy string `db:"created_by"`
	CreatedAt string `db:"created_at"`
}

func (r *dependencyRow) toDependency() (*types.Dependency, error) {
	d := &types.Dependency{
		SourceID:  types.ElementId(r.SourceID),
		TargetID:  types.ElementId(r.TargetID),
		Type:      types.DependencyType(r.Type),
		CreatedBy: types.EntityId(r.CreatedBy),
		CreatedAt: parseTime(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.Metadata), &d.Metadata); err != nil {
		return nil, elemerr.Internal(err, "decode dependency metadata %s->%s", r.SourceID, r.TargetID)
	}
	return d, nil
}

// AddDependency inserts a new edge. Returns Conflict if (source, target,
// type) already exists.
func (s *Store) AddDependency(d *types.Dependency) error {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return elemerr.Internal(err, "encode dependency metadata")
	}
	_, err = s.db.Exec(`
		INSERT INTO dependencies (source_id, target_id, type, metadata, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(d.SourceID), string(d.TargetID), string(d.Type), string(metadata),
		string(d.CreatedBy), d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return elemerr.Conflict("dependency %s->%s (%s) already exists", d.SourceID, d.TargetID, d.Type)
	}
	return nil
}

// UpdateDependencyMetadata rewrites the metadata of an existing edge (the
// mechanism by which `external`/`webhook` gates get marked satisfied).
func (s *Store) UpdateDependencyMetadata(sourceID, targetID types.ElementId, depType types.DependencyType, metadata map[string]any) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return elemerr.Internal(err, "encode dependency metadata")
	}
	res, err := s.db.Exec(`
		UPDATE dependencies SET metadata = ? WHERE source_id = ? AND target_id = ? AND type = ?`,
		string(encoded), string(sourceID), string(targetID), string(depType),
	)
	if err != nil {
		return elemerr.Internal(err, "update dependency metadata %s->%s", sourceID, targetID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("dependency", string(sourceID)+"->"+string(targetID))
	}
	return nil
}

// RemoveDependency deletes the edge identified by (source, target, type).
func (s *Store) RemoveDependency(sourceID, targetID types.ElementId, depType types.DependencyType) error {
	res, err := s.db.Exec(`
		DELETE FROM dependencies WHERE source_id = ? AND target_id = ? AND type = ?`,
		string(sourceID), string(targetID), string(depType),
	)
	if err != nil {
		return elemerr.Internal(err, "remove dependency %s->%s", sourceID, targetID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("dependency", string(sourceID)+"->"+string(targetID))
	}
	return nil
}

// GetDependencies returns the outgoing edges from id, optionally
// restricted to the given types, ordered deterministically by
// (type, createdAt, targetId) so blocking-state evaluation is
// deterministic.
func (s *Store) GetDependencies(id types.ElementId, depTypes []types.DependencyType) ([]*types.Dependency, error) {
	query := `SELECT * FROM dependencies WHERE source_id = ?`
	args := []any{string(id)}
	query, args = appendTypeFilter(query, args, "type", depTypes)
	query += ` ORDER BY type ASC, created_at ASC, target_id ASC`

	var rows []dependencyRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, elemerr.Internal(err, "load dependencies for %s", id)
	}
	return decodeDependencyRows(rows)
}

// GetDependents returns the incoming edges into id (U such that U->id),
// optionally restricted to the given types.
func (s *Store) GetDependents(id types.ElementId, depTypes []types.DependencyType) ([]*types.Dependency, error) {
	query := `SELECT * FROM dependencies WHERE target_id = ?`
	args := []any{string(id)}
	query, args = appendTypeFilter(query, args, "type", depTypes)
	query += ` ORDER BY type ASC, created_at ASC, source_id ASC`

	var rows []dependencyRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, elemerr.Internal(err, "load dependents for %s", id)
	}
	return decodeDependencyRows(rows)
}

// AllBlockingDependencies returns every edge in the blocking family
// (blocks, parent-child, awaits) across the whole graph — the candidate
// set for a full blocked-cache rebuild.
func (s *Store) AllBlockingDependencies() ([]*types.Dependency, error) {
	var rows []dependencyRow
	err := s.db.Select(&rows, `
		SELECT * FROM dependencies WHERE type IN ('blocks', 'parent-child', 'awaits')
		ORDER BY type ASC, created_at ASC, target_id ASC`)
	if err != nil {
		return nil, elemerr.Internal(err, "load blocking dependencies")
	}
	return decodeDependencyRows(rows)
}

func decodeDependencyRows(rows []dependencyRow) ([]*types.Dependency, error) {
	out := make([]*types.Dependency, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDependency()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func appendTypeFilter(query string, args []any, column string, depTypes []types.DependencyType) (string, []any) {
	if len(depTypes) == 0 {
		return query, args
	}
	query += " AND " + column + " IN ("
	for i, t := range depTypes {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(t))
	}
	query += ")"
	return query, args
}

// RemoveDependenciesTouching deletes every edge where id is either the
// source or the target (used by Burn to clean up a deleted workflow's
// child tasks without leaving dangling edges behind).
func (s *Store) RemoveDependenciesTouching(id types.ElementId) error {
	_, err := s.db.Exec(`DELETE FROM dependencies WHERE source_id = ? OR target_id = ?`, string(id), string(id))
	if err != nil {
		return elemerr.Internal(err, "remove dependencies touching %s", id)
	}
	return nil
}
