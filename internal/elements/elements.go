// Package elements implements the Element API: create/get/update/delete/
// list/search plus the dependency-graph operations (addDependency/
// removeDependency/getDependencyTree), with a cycle-detecting DFS and
// Blocked Cache notification on every mutation.
package elements

import (
	"time"

	"github.com/google/uuid"

	"github.com/elemental/daemon/internal/blocked"
	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/events"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

// API is the element CRUD and dependency-graph layer: a thin
// transactional wrapper over the Store that enforces uniqueness,
// version monotonicity and graph acyclicity, and keeps the Blocked
// Cache in sync with every mutation.
type API struct {
	store *store.Store
	cache *blocked.Cache
	log   *logging.Logger
	bus   *events.Bus
}

// New constructs an API over st and c. log may be nil.
func New(st *store.Store, c *blocked.Cache, log *logging.Logger) *API {
	return &API{store: st, cache: c, log: log}
}

// SetEventBus attaches the change-event bus mutations are announced on.
// Without one, mutations simply go unannounced.
func (a *API) SetEventBus(bus *events.Bus) { a.bus = bus }

func (a *API) publish(evt events.Event) {
	if a.bus != nil {
		a.bus.Publish(evt)
	}
}

// NewElementID generates an opaque `el-<uuid>` identifier.
func NewElementID() types.ElementId {
	return types.ElementId("el-" + uuid.NewString())
}

// Create assigns an id if e.ID is empty, stamps createdAt/updatedAt/version,
// and persists e.
func (a *API) Create(e *types.Element, now time.Time, createdBy types.EntityId) (*types.Element, error) {
	if e.ID == "" {
		e.ID = NewElementID()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.CreatedBy = createdBy
	e.Version = 1

	if err := validateKindFields(e); err != nil {
		return nil, err
	}

	if err := a.store.CreateElement(e); err != nil {
		return nil, err
	}
	a.publish(events.Event{Type: events.ElementCreated, ElementID: e.ID, Element: e, Timestamp: now})
	return e, nil
}

var validTaskTypes = map[types.TaskType]bool{
	types.TaskBug: true, types.TaskFeature: true, types.TaskChore: true, types.TaskGeneric: true,
}

func validateKindFields(e *types.Element) error {
	switch e.Kind {
	case types.KindTask:
		if e.Task == nil {
			return elemerr.Validation("task element requires task fields")
		}
		t := e.Task
		if t.Priority == 0 {
			t.Priority = 3
		}
		if t.Complexity == 0 {
			t.Complexity = 3
		}
		if t.Priority < 1 || t.Priority > 5 {
			return elemerr.Validation("task priority %d out of range 1..5", t.Priority)
		}
		if t.Complexity < 1 || t.Complexity > 5 {
			return elemerr.Validation("task complexity %d out of range 1..5", t.Complexity)
		}
		if t.TaskType == "" {
			t.TaskType = types.TaskGeneric
		}
		if !validTaskTypes[t.TaskType] {
			return elemerr.Validation("unknown task type %q", t.TaskType)
		}
		if t.Status == "" {
			t.Status = types.TaskOpen
		}
		if _, ok := taskTransitions[t.Status]; !ok {
			return elemerr.Validation("unknown task status %q", t.Status)
		}
	case types.KindWorkflow:
		if e.Workflow == nil {
			return elemerr.Validation("workflow element requires workflow fields")
		}
		w := e.Workflow
		if w.Status == "" {
			w.Status = types.WorkflowPending
		}
		if _, ok := workflowTransitions[w.Status]; !ok {
			return elemerr.Validation("unknown workflow status %q", w.Status)
		}
	case types.KindPlaybook:
		if e.Playbook == nil {
			return elemerr.Validation("playbook element requires playbook fields")
		}
	}
	return nil
}

// Get loads an element by id. Tombstoned elements are hidden unless
// includeTombstone is set.
func (a *API) Get(id types.ElementId, includeTombstone bool) (*types.Element, error) {
	return a.store.GetElement(id, includeTombstone)
}

// List returns elements matching filter.
func (a *API) List(filter store.ElementFilter) ([]*types.Element, error) {
	return a.store.ListElements(filter)
}

// ListPaginated returns one page of elements matching filter plus the
// total match count.
func (a *API) ListPaginated(filter store.ElementFilter) (*store.Page, error) {
	return a.store.ListElementsPaginated(filter)
}

// Search performs a prefix/substring search over element titles, ordered
// by recency.
func (a *API) Search(query string, filter store.ElementFilter) ([]*types.Element, error) {
	return a.store.SearchElements(query, filter)
}

// id, kind, createdAt, and createdBy never change across an Update. The
// patch callback receives the current element directly, so it is mostly
// the caller's structural inability to change these identifiers
// (ID/Kind/CreatedAt/CreatedBy are not settable through TaskFields etc.)
// that enforces this in practice; Update additionally guards against a
// patch callback attempting to smuggle a different ID through.

// Update loads the current element, applies patch, validates kind-specific
// status transitions, bumps version, persists, and notifies the Blocked
// Cache. If expectedVersion is non-zero and does not match the loaded
// version, Update fails with Conflict (optimistic concurrency) before
// patch is even invoked.
func (a *API) Update(id types.ElementId, expectedVersion int64, now time.Time, patch func(*types.Element) error) (*types.Element, error) {
	current, err := a.store.GetElement(id, false)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return nil, elemerr.Conflict("element %s version %d does not match expected %d", id, current.Version, expectedVersion)
	}

	originalID, originalKind, originalCreatedAt, originalCreatedBy := current.ID, current.Kind, current.CreatedAt, current.CreatedBy
	originalTaskStatus, originalWorkflowStatus := taskStatusOf(current), workflowStatusOf(current)

	if err := patch(current); err != nil {
		return nil, err
	}

	if current.ID != originalID || current.Kind != originalKind ||
		!current.CreatedAt.Equal(originalCreatedAt) || current.CreatedBy != originalCreatedBy {
		return nil, elemerr.Validation("cannot change immutable fields (id, kind, createdAt, createdBy)")
	}

	if current.Kind == types.KindTask && current.Task != nil {
		if !validateTaskTransition(originalTaskStatus, current.Task.Status) {
			return nil, elemerr.Validation("illegal task status transition %s -> %s", originalTaskStatus, current.Task.Status)
		}
	}
	if current.Kind == types.KindWorkflow && current.Workflow != nil {
		w := current.Workflow
		if !validateWorkflowTransition(originalWorkflowStatus, w.Status) {
			return nil, elemerr.Validation("illegal workflow status transition %s -> %s", originalWorkflowStatus, w.Status)
		}
		// Lifecycle timestamps follow the status machine: entering
		// running stamps startedAt, entering a terminal status stamps
		// finishedAt (GC keys off it).
		if originalWorkflowStatus != w.Status {
			switch w.Status {
			case types.WorkflowRunning:
				if w.StartedAt == nil {
					w.StartedAt = &now
				}
			case types.WorkflowCompleted, types.WorkflowFailed, types.WorkflowCancelled:
				if w.FinishedAt == nil {
					w.FinishedAt = &now
				}
			}
		}
	}

	current.Version++
	current.UpdatedAt = now
	if err := a.store.UpdateElement(current); err != nil {
		return nil, err
	}

	statusChanged := originalTaskStatus != taskStatusOf(current) || originalWorkflowStatus != workflowStatusOf(current)
	if a.cache != nil && statusChanged {
		if err := a.cache.InvalidateDependents(id, now); err != nil {
			a.logCacheFailure("invalidate dependents after update", id, err, now)
		}
	}
	a.publish(events.Event{Type: events.ElementUpdated, ElementID: id, Element: current, Timestamp: now})
	return current, nil
}

// logCacheFailure handles a Blocked Cache error that occurred after the
// triggering element mutation already committed. The mutation has
// already succeeded from the caller's point of view, so the error is
// logged rather than returned, and a full rebuild is kicked off in the
// background to repair whatever the failed invalidation left stale.
func (a *API) logCacheFailure(op string, id types.ElementId, err error, now time.Time) {
	if a.log != nil {
		a.log.Error("blocked cache invalidation failed, scheduling rebuild", "op", op, "elementId", id, "error", err)
	}
	if a.cache == nil {
		return
	}
	go func() {
		if rebuildErr := a.cache.Rebuild(now); rebuildErr != nil && a.log != nil {
			a.log.Error("blocked cache recovery rebuild failed", "op", op, "elementId", id, "error", rebuildErr)
		}
	}()
}

func taskStatusOf(e *types.Element) types.TaskStatus {
	if e.Task == nil {
		return ""
	}
	return e.Task.Status
}

func workflowStatusOf(e *types.Element) types.WorkflowStatus {
	if e.Workflow == nil {
		return ""
	}
	return e.Workflow.Status
}

// Delete soft-deletes (tombstones) id: sets deletedAt, flips kind-specific
// status to tombstone, bumps version, and tells the Blocked Cache the
// element now counts as completed so it no longer blocks anyone.
func (a *API) Delete(id types.ElementId, now time.Time) error {
	e, err := a.store.GetElement(id, false)
	if err != nil {
		return err
	}
	e.DeletedAt = &now
	switch e.Kind {
	case types.KindTask:
		if e.Task != nil {
			e.Task.Status = types.TaskTombstone
		}
	case types.KindWorkflow:
		if e.Workflow != nil {
			e.Workflow.Status = types.WorkflowTombstone
		}
	}
	e.Version++
	e.UpdatedAt = now
	if err := a.store.UpdateElement(e); err != nil {
		return err
	}
	if a.cache != nil {
		if err := a.cache.OnElementDeleted(id, now); err != nil {
			a.logCacheFailure("invalidate dependents after delete", id, err, now)
		}
	}
	a.publish(events.Event{Type: events.ElementDeleted, ElementID: id, Timestamp: now})
	return nil
}

// DeleteHard permanently removes an element, every edge touching it,
// and its blocked-cache row, then re-evaluates anything that was
// blocked on it through one of the removed edges. Unlike Delete, this
// does not tombstone: the element is simply gone afterwards.
func (a *API) DeleteHard(id types.ElementId, now time.Time) error {
	var formerDependents []types.ElementId
	if a.cache != nil {
		deps, err := a.store.GetDependents(id, blockingFamily)
		if err != nil {
			return err
		}
		for _, d := range deps {
			formerDependents = append(formerDependents, d.SourceID)
		}
	}

	if err := a.store.RemoveDependenciesTouching(id); err != nil {
		return err
	}
	if err := a.store.DeleteElement(id); err != nil {
		return err
	}
	if a.cache == nil {
		return nil
	}
	if err := a.store.DeleteBlocked(id); err != nil {
		return err
	}
	for _, u := range formerDependents {
		if err := a.cache.Invalidate(u, now); err != nil {
			a.logCacheFailure("invalidate dependent after hard delete", u, err, now)
		}
	}
	return nil
}
