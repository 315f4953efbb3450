package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

// elementRow is the flat row shape of the elements table.
type elementRow struct {
	ID        string         `db:"id"`
	Kind      string         `db:"kind"`
	Title     string         `db:"title"`
	Tags      string         `db:"tags"`
	Metadata  string         `db:"metadata"`
	CreatedAt string         `db:"created_at"`
	UpdatedAt string         `db:"updated_at"`
	CreatedBy string         `db:"created_by"`
	DeletedAt sql.NullString `db:"deleted_at"`
	Version   int64          `db:"version"`
}

type taskRow struct {
	ElementID    string         `db:"element_id"`
	Status       string         `db:"status"`
	Priority     int            `db:"priority"`
	Complexity   int            `db:"complexity"`
	TaskType     string         `db:"task_type"`
	Assignee     sql.NullString `db:"assignee"`
	Owner        sql.NullString `db:"owner"`
	ScheduledFor sql.NullString `db:"scheduled_for"`
	Deadline     sql.NullString `db:"deadline"`
	CloseReason  string         `db:"close_reason"`
	Ephemeral    bool           `db:"ephemeral"`
}

type workflowRow struct {
	ElementID     string         `db:"element_id"`
	Status        string         `db:"status"`
	Ephemeral     bool           `db:"ephemeral"`
	PlaybookID    sql.NullString `db:"playbook_id"`
	Variables     string         `db:"variables"`
	StartedAt     sql.NullString `db:"started_at"`
	FinishedAt    sql.NullString `db:"finished_at"`
	FailureReason string         `db:"failure_reason"`
	CancelReason  string         `db:"cancel_reason"`
}

type playbookRow struct {
	ElementID string `db:"element_id"`
	Name      string `db:"name"`
	Steps     string `db:"steps"`
	Variables string `db:"variables"`
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (r *elementRow) toElement() (*types.Element, error) {
	e := &types.Element{
		ID:        types.ElementId(r.ID),
		Kind:      types.ElementKind(r.Kind),
		Title:     r.Title,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
		CreatedBy: types.EntityId(r.CreatedBy),
		Version:   r.Version,
	}
	if r.DeletedAt.Valid {
		t := parseTime(r.DeletedAt.String)
		e.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(r.Tags), &e.Tags); err != nil {
		return nil, elemerr.Internal(err, "decode element %s tags", r.ID)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
		return nil, elemerr.Internal(err, "decode element %s metadata", r.ID)
	}
	return e, nil
}

func (t *taskRow) toFields() (*types.TaskFields, error) {
	f := &types.TaskFields{
		Status:      types.TaskStatus(t.Status),
		Priority:    t.Priority,
		Complexity:  t.Complexity,
		TaskType:    types.TaskType(t.TaskType),
		CloseReason: t.CloseReason,
		Ephemeral:   t.Ephemeral,
	}
	if t.Assignee.Valid {
		id := types.EntityId(t.Assignee.String)
		f.Assignee = &id
	}
	if t.Owner.Valid {
		id := types.EntityId(t.Owner.String)
		f.Owner = &id
	}
	f.ScheduledFor = parseNullTime(t.ScheduledFor)
	f.Deadline = parseNullTime(t.Deadline)
	return f, nil
}

func (w *workflowRow) toFields() (*types.WorkflowFields, error) {
	f := &types.WorkflowFields{
		Status:        types.WorkflowStatus(w.Status),
		Ephemeral:     w.Ephemeral,
		FailureReason: w.FailureReason,
		CancelReason:  w.CancelReason,
	}
	if w.PlaybookID.Valid {
		id := types.ElementId(w.PlaybookID.String)
		f.PlaybookID = &id
	}
	if err := json.Unmarshal([]byte(w.Variables), &f.Variables); err != nil {
		return nil, elemerr.Internal(err, "decode workflow %s variables", w.ElementID)
	}
	f.StartedAt = parseNullTime(w.StartedAt)
	f.FinishedAt = parseNullTime(w.FinishedAt)
	return f, nil
}

func (p *playbookRow) toFields() (*types.PlaybookFields, error) {
	f := &types.PlaybookFields{Name: p.Name}
	if err := json.Unmarshal([]byte(p.Steps), &f.Steps); err != nil {
		return nil, elemerr.Internal(err, "decode playbook %s steps", p.ElementID)
	}
	if err := json.Unmarshal([]byte(p.Variables), &f.Variables); err != nil {
		return nil, elemerr.Internal(err, "decode playbook %s variables", p.ElementID)
	}
	return f, nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting element
// assembly run inside or outside an explicit transaction.
type queryer interface {
	sqlx.Queryer
	Get(dest any, query string, args ...any) error
	Select(dest any, query string, args ...any) error
}

func assembleElement(q queryer, row *elementRow) (*types.Element, error) {
	e, err := row.toElement()
	if err != nil {
		return nil, err
	}
	switch e.Kind {
	case types.KindTask:
		var tr taskRow
		if err := q.Get(&tr, `SELECT * FROM task_fields WHERE element_id = ?`, row.ID); err != nil {
			if err == sql.ErrNoRows {
				return e, nil
			}
			return nil, elemerr.Internal(err, "load task fields for %s", row.ID)
		}
		f, err := tr.toFields()
		if err != nil {
			return nil, err
		}
		e.Task = f
	case types.KindWorkflow:
		var wr workflowRow
		if err := q.Get(&wr, `SELECT * FROM workflow_fields WHERE element_id = ?`, row.ID); err != nil {
			if err == sql.ErrNoRows {
				return e, nil
			}
			return nil, elemerr.Internal(err, "load workflow fields for %s", row.ID)
		}
		f, err := wr.toFields()
		if err != nil {
			return nil, err
		}
		e.Workflow = f
	case types.KindPlaybook:
		var pr playbookRow
		if err := q.Get(&pr, `SELECT * FROM playbook_fields WHERE element_id = ?`, row.ID); err != nil {
			if err == sql.ErrNoRows {
				return e, nil
			}
			return nil, elemerr.Internal(err, "load playbook fields for %s", row.ID)
		}
		f, err := pr.toFields()
		if err != nil {
			return nil, err
		}
		e.Playbook = f
	}
	return e, nil
}

// CreateElement inserts a brand-new element (and its kind-specific
// fields, if any) in a single transaction.
func (s *Store) CreateElement(e *types.Element) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return elemerr.Internal(err, "begin create element tx")
	}
	defer tx.Rollback()

	if err := insertElement(tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return elemerr.Internal(err, "commit create element %s", e.ID)
	}
	return nil
}

func insertElement(tx *sqlx.Tx, e *types.Element) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return elemerr.Internal(err, "encode tags for %s", e.ID)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return elemerr.Internal(err, "encode metadata for %s", e.ID)
	}

	_, err = tx.Exec(`
		INSERT INTO elements (id, kind, title, tags, metadata, created_at, updated_at, created_by, deleted_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.Kind), e.Title, string(tags), string(metadata),
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(e.CreatedBy), formatTimePtr(e.DeletedAt), e.Version,
	)
	if err != nil {
		return elemerr.Internal(err, "insert element %s", e.ID)
	}

	switch e.Kind {
	case types.KindTask:
		if e.Task == nil {
			return elemerr.Validation("task element %s missing task fields", e.ID)
		}
		if err := upsertTaskFields(tx, e.ID, e.Task); err != nil {
			return err
		}
	case types.KindWorkflow:
		if e.Workflow == nil {
			return elemerr.Validation("workflow element %s missing workflow fields", e.ID)
		}
		if err := upsertWorkflowFields(tx, e.ID, e.Workflow); err != nil {
			return err
		}
	case types.KindPlaybook:
		if e.Playbook == nil {
			return elemerr.Validation("playbook element %s missing playbook fields", e.ID)
		}
		if err := upsertPlaybookFields(tx, e.ID, e.Playbook); err != nil {
			return err
		}
	}
	return nil
}

func upsertTaskFields(tx *sqlx.Tx, id types.ElementId, f *types.TaskFields) error {
	_, err := tx.Exec(`
		INSERT INTO task_fields (element_id, status, priority, complexity, task_type, assignee, owner, scheduled_for, deadline, close_reason, ephemeral)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(element_id) DO UPDATE SET
			status=excluded.status, priority=excluded.priority, complexity=excluded.complexity,
			task_type=excluded.task_type, assignee=excluded.assignee, owner=excluded.owner,
			scheduled_for=excluded.scheduled_for, deadline=excluded.deadline,
			close_reason=excluded.close_reason, ephemeral=excluded.ephemeral`,
		string(id), string(f.Status), f.Priority, f.Complexity, string(f.TaskType),
		optionalEntity(f.Assignee), optionalEntity(f.Owner),
		formatTimePtr(f.ScheduledFor), formatTimePtr(f.Deadline), f.CloseReason, f.Ephemeral,
	)
	if err != nil {
		return elemerr.Internal(err, "upsert task fields for %s", id)
	}
	return nil
}

func optionalEntity(id *types.EntityId) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func upsertWorkflowFields(tx *sqlx.Tx, id types.ElementId, f *types.WorkflowFields) error {
	variables, err := json.Marshal(f.Variables)
	if err != nil {
		return elemerr.Internal(err, "encode workflow variables for %s", id)
	}
	var playbookID sql.NullString
	if f.PlaybookID != nil {
		playbookID = nullString(string(*f.PlaybookID))
	}
	_, err = tx.Exec(`
		INSERT INTO workflow_fields (element_id, status, ephemeral, playbook_id, variables, started_at, finished_at, failure_reason, cancel_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(element_id) DO UPDATE SET
			status=excluded.status, ephemeral=excluded.ephemeral, playbook_id=excluded.playbook_id,
			variables=excluded.variables, started_at=excluded.started_at, finished_at=excluded.finished_at,
			failure_reason=excluded.failure_reason, cancel_reason=excluded.cancel_reason`,
		string(id), string(f.Status), f.Ephemeral, playbookID, string(variables),
		formatTimePtr(f.StartedAt), formatTimePtr(f.FinishedAt), f.FailureReason, f.CancelReason,
	)
	if err != nil {
		return elemerr.Internal(err, "upsert workflow fields for %s", id)
	}
	return nil
}

func upsertPlaybookFields(tx *sqlx.Tx, id types.ElementId, f *types.PlaybookFields) error {
	steps, err := json.Marshal(f.Steps)
	if err != nil {
		return elemerr.Internal(err, "encode playbook steps for %s", id)
	}
	variables, err := json.Marshal(f.Variables)
	if err != nil {
		return elemerr.Internal(err, "encode playbook variables for %s", id)
	}
	_, err = tx.Exec(`
		INSERT INTO playbook_fields (element_id, name, steps, variables)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(element_id) DO UPDATE SET
			name=excluded.name, steps=excluded.steps, variables=excluded.variables`,
		string(id), f.Name, string(steps), string(variables),
	)
	if err != nil {
		return elemerr.Internal(err, "upsert playbook fields for %s", id)
	}
	return nil
}

// GetElement loads an element by id. If includeTombstone is false (the
// common case), a tombstoned element is reported as NotFound.
func (s *Store) GetElement(id types.ElementId, includeTombstone bool) (*types.Element, error) {
	var row elementRow
	err := s.db.Get(&row, `SELECT * FROM elements WHERE id = ?`, string(id))
	if err == sql.ErrNoRows {
		return nil, elemerr.NotFound("element", string(id))
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load element %s", id)
	}
	if row.DeletedAt.Valid && !includeTombstone {
		return nil, elemerr.NotFound("element", string(id))
	}
	return assembleElement(s.db, &row)
}

// ElementFilter restricts ListElements/SearchElements results.
type ElementFilter struct {
	Kind             types.ElementKind
	Status           string
	Assignee         types.EntityId
	Unassigned       bool
	Priority         int
	TaskType         types.TaskType
	IncludeTombstone bool
	Limit            int
	Offset           int
}

// Page is one page of a paginated listing, with the total number of
// matching rows so callers can compute page counts.
type Page struct {
	Elements []*types.Element
	Total    int
	Limit    int
	Offset   int
}

// listClauses builds the shared JOIN/WHERE clauses for ListElements and
// ListElementsPaginated from filter.
func listClauses(filter ElementFilter) (joins, where []string, args []any) {
	if filter.Kind != "" {
		where = append(where, "e.kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.IncludeTombstone {
		where = append(where, "e.deleted_at IS NULL")
	}
	if filter.Status != "" || filter.Assignee != "" || filter.Unassigned || filter.Priority != 0 || filter.TaskType != "" {
		joins = append(joins, "JOIN task_fields t ON t.element_id = e.id")
		if filter.Status != "" {
			where = append(where, "t.status = ?")
			args = append(args, filter.Status)
		}
		if filter.Unassigned {
			where = append(where, "t.assignee IS NULL")
		} else if filter.Assignee != "" {
			where = append(where, "t.assignee = ?")
			args = append(args, string(filter.Assignee))
		}
		if filter.Priority != 0 {
			where = append(where, "t.priority = ?")
			args = append(args, filter.Priority)
		}
		if filter.TaskType != "" {
			where = append(where, "t.task_type = ?")
			args = append(args, string(filter.TaskType))
		}
	}
	return joins, where, args
}

func appendClauses(query string, joins, where []string) string {
	for _, j := range joins {
		query += " " + j
	}
	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}
	return query
}

// ListElements returns elements matching filter, ordered by recency.
func (s *Store) ListElements(filter ElementFilter) ([]*types.Element, error) {
	joins, where, args := listClauses(filter)
	query := appendClauses(`SELECT e.* FROM elements e`, joins, where)
	query += " ORDER BY e.created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []elementRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, elemerr.Internal(err, "list elements")
	}
	out := make([]*types.Element, 0, len(rows))
	for i := range rows {
		e, err := assembleElement(s.db, &rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ListElementsPaginated returns one page of elements matching filter
// together with the total match count. A zero Limit defaults to 50.
func (s *Store) ListElementsPaginated(filter ElementFilter) (*Page, error) {
	joins, where, args := listClauses(filter)

	var total int
	countQuery := appendClauses(`SELECT COUNT(*) FROM elements e`, joins, where)
	if err := s.db.Get(&total, countQuery, args...); err != nil {
		return nil, elemerr.Internal(err, "count elements")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := appendClauses(`SELECT e.* FROM elements e`, joins, where)
	query += " ORDER BY e.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	var rows []elementRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, elemerr.Internal(err, "list elements page")
	}
	page := &Page{Total: total, Limit: limit, Offset: filter.Offset}
	page.Elements = make([]*types.Element, 0, len(rows))
	for i := range rows {
		e, err := assembleElement(s.db, &rows[i])
		if err != nil {
			return nil, err
		}
		page.Elements = append(page.Elements, e)
	}
	return page, nil
}

// SearchElements performs a prefix/substring match over element titles,
// ordered by recency (full hybrid/semantic search is out
// of scope; this satisfies the minimum contract).
func (s *Store) SearchElements(query string, filter ElementFilter) ([]*types.Element, error) {
	sqlQuery := `SELECT * FROM elements WHERE title LIKE ?`
	args := []any{"%" + query + "%"}
	if filter.Kind != "" {
		sqlQuery += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if !filter.IncludeTombstone {
		sqlQuery += " AND deleted_at IS NULL"
	}
	sqlQuery += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []elementRow
	if err := s.db.Select(&rows, sqlQuery, args...); err != nil {
		return nil, elemerr.Internal(err, "search elements")
	}
	out := make([]*types.Element, 0, len(rows))
	for i := range rows {
		e, err := assembleElement(s.db, &rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateElement persists e's current field values, bumping its version.
// Callers (internal/elements) are responsible for loading the previous
// version, applying the patch, and running kind-specific validation
// before calling this; UpdateElement itself is a straightforward
// upsert-and-bump.
func (s *Store) UpdateElement(e *types.Element) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return elemerr.Internal(err, "begin update element tx")
	}
	defer tx.Rollback()

	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return elemerr.Internal(err, "encode tags for %s", e.ID)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return elemerr.Internal(err, "encode metadata for %s", e.ID)
	}

	res, err := tx.Exec(`
		UPDATE elements SET title=?, tags=?, metadata=?, updated_at=?, deleted_at=?, version=?
		WHERE id=?`,
		e.Title, string(tags), string(metadata), e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		formatTimePtr(e.DeletedAt), e.Version, string(e.ID),
	)
	if err != nil {
		return elemerr.Internal(err, "update element %s", e.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("element", string(e.ID))
	}

	switch e.Kind {
	case types.KindTask:
		if e.Task != nil {
			if err := upsertTaskFields(tx, e.ID, e.Task); err != nil {
				return err
			}
		}
	case types.KindWorkflow:
		if e.Workflow != nil {
			if err := upsertWorkflowFields(tx, e.ID, e.Workflow); err != nil {
				return err
			}
		}
	case types.KindPlaybook:
		if e.Playbook != nil {
			if err := upsertPlaybookFields(tx, e.ID, e.Playbook); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return elemerr.Internal(err, "commit update element %s", e.ID)
	}
	return nil
}

// DeleteElement permanently removes an element and its kind-specific
// fields (cascaded by the schema's ON DELETE CASCADE). Used by Burn,
// which hard-deletes ephemeral workflows and their child tasks rather
// than tombstoning them.
func (s *Store) DeleteElement(id types.ElementId) error {
	res, err := s.db.Exec(`DELETE FROM elements WHERE id = ?`, string(id))
	if err != nil {
		return elemerr.Internal(err, "delete element %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return elemerr.NotFound("element", string(id))
	}
	return nil
}

// GetPlaybookByName loads a playbook element by its unique name.
func (s *Store) GetPlaybookByName(name string) (*types.Element, error) {
	var pr playbookRow
	err := s.db.Get(&pr, `SELECT * FROM playbook_fields WHERE name = ?`, name)
	if err == sql.ErrNoRows {
		return nil, elemerr.NotFound("playbook", name)
	}
	if err != nil {
		return nil, elemerr.Internal(err, "load playbook by name %s", name)
	}
	return s.GetElement(types.ElementId(pr.ElementID), false)
}
