package task

import (
	"testing"
	"time"

	"github.com/elemental/daemon/internal/blocked"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

func setup(t *testing.T) (*store.Store, *blocked.Cache, *Service) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	c := blocked.New(st, nil)
	return st, c, New(st, c)
}

func mkTask(id string, priority int, status types.TaskStatus, scheduledFor *time.Time) *types.Element {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Element{
		ID: types.ElementId(id), Kind: types.KindTask, Title: id,
		CreatedAt: now, UpdatedAt: now, CreatedBy: "el-system", Version: 1,
		Task: &types.TaskFields{Status: status, Priority: priority, TaskType: types.TaskGeneric, ScheduledFor: scheduledFor},
	}
}

func TestReady_FiltersAndOrders(t *testing.T) {
	st, _, svc := setup(t)
	now := time.Now().UTC()
	future := now.Add(time.Hour)

	mustCreate(t, st, mkTask("el-1", 3, types.TaskOpen, nil))
	mustCreate(t, st, mkTask("el-2", 1, types.TaskOpen, nil))
	mustCreate(t, st, mkTask("el-3", 2, types.TaskClosed, nil))    // excluded: closed
	mustCreate(t, st, mkTask("el-4", 1, types.TaskOpen, &future)) // excluded: not yet scheduled

	got, err := svc.Ready(now, Filter{})
	if err != nil {
		t.Fatalf("Ready() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Ready() returned %d tasks, want 2: %+v", len(got), got)
	}
	if got[0].ID != "el-2" || got[1].ID != "el-1" {
		t.Errorf("Ready() order = [%s, %s], want [el-2, el-1] (priority asc)", got[0].ID, got[1].ID)
	}
}

func TestReady_ExcludesBlocked(t *testing.T) {
	st, c, svc := setup(t)
	now := time.Now().UTC()

	mustCreate(t, st, mkTask("el-1", 1, types.TaskOpen, nil))
	mustCreate(t, st, mkTask("el-2", 1, types.TaskOpen, nil))

	dep := &types.Dependency{SourceID: "el-1", TargetID: "el-2", Type: types.DepBlocks, CreatedAt: now, CreatedBy: "el-system"}
	if err := st.AddDependency(dep); err != nil {
		t.Fatalf("AddDependency() error: %v", err)
	}
	if err := c.OnDependencyAdded(dep, now); err != nil {
		t.Fatalf("OnDependencyAdded() error: %v", err)
	}

	got, err := svc.Ready(now, Filter{})
	if err != nil {
		t.Fatalf("Ready() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "el-2" {
		t.Errorf("Ready() = %v, want [el-2]", got)
	}
}

func TestBlocked_ReturnsReason(t *testing.T) {
	st, c, svc := setup(t)
	now := time.Now().UTC()

	mustCreate(t, st, mkTask("el-1", 1, types.TaskOpen, nil))
	mustCreate(t, st, mkTask("el-2", 1, types.TaskOpen, nil))

	dep := &types.Dependency{SourceID: "el-1", TargetID: "el-2", Type: types.DepBlocks, CreatedAt: now, CreatedBy: "el-system"}
	if err := st.AddDependency(dep); err != nil {
		t.Fatalf("AddDependency() error: %v", err)
	}
	if err := c.OnDependencyAdded(dep, now); err != nil {
		t.Fatalf("OnDependencyAdded() error: %v", err)
	}

	got, err := svc.Blocked(Filter{})
	if err != nil {
		t.Fatalf("Blocked() error: %v", err)
	}
	if len(got) != 1 || got[0].Task.ID != "el-1" || got[0].BlockedBy != "el-2" {
		t.Fatalf("Blocked() = %+v, want one entry for el-1 blocked by el-2", got)
	}
}

func TestWorkflowProgress(t *testing.T) {
	st, c, svc := setup(t)
	now := time.Now().UTC()

	wf := &types.Element{
		ID: "el-wf", Kind: types.KindWorkflow, Title: "wf", CreatedAt: now, UpdatedAt: now,
		CreatedBy: "el-system", Version: 1,
		Workflow: &types.WorkflowFields{Status: types.WorkflowRunning, Ephemeral: true},
	}
	mustCreate(t, st, wf)
	mustCreate(t, st, mkTask("el-1", 1, types.TaskOpen, nil))
	mustCreate(t, st, mkTask("el-2", 1, types.TaskClosed, nil))
	mustCreate(t, st, mkTask("el-3", 1, types.TaskOpen, nil))

	for _, id := range []types.ElementId{"el-1", "el-2", "el-3"} {
		dep := &types.Dependency{SourceID: id, TargetID: "el-wf", Type: types.DepParentChild, CreatedAt: now, CreatedBy: "el-system"}
		if err := st.AddDependency(dep); err != nil {
			t.Fatalf("AddDependency() error: %v", err)
		}
	}

	// el-3 is blocked by el-1.
	blockDep := &types.Dependency{SourceID: "el-3", TargetID: "el-1", Type: types.DepBlocks, CreatedAt: now, CreatedBy: "el-system"}
	if err := st.AddDependency(blockDep); err != nil {
		t.Fatalf("AddDependency(blocks) error: %v", err)
	}
	if err := c.OnDependencyAdded(blockDep, now); err != nil {
		t.Fatalf("OnDependencyAdded() error: %v", err)
	}

	got, err := svc.WorkflowProgress("el-wf", now)
	if err != nil {
		t.Fatalf("WorkflowProgress() error: %v", err)
	}
	if got.TotalTasks != 3 {
		t.Errorf("TotalTasks = %d, want 3", got.TotalTasks)
	}
	if got.StatusCounts[types.TaskClosed] != 1 {
		t.Errorf("StatusCounts[closed] = %d, want 1", got.StatusCounts[types.TaskClosed])
	}
	if got.BlockedTasks != 1 {
		t.Errorf("BlockedTasks = %d, want 1", got.BlockedTasks)
	}
	if got.ReadyTasks != 1 {
		t.Errorf("ReadyTasks = %d, want 1 (el-1)", got.ReadyTasks)
	}
	if got.CompletionPercentage != 33 {
		t.Errorf("CompletionPercentage = %d, want 33", got.CompletionPercentage)
	}
}

func TestWorkflowProgress_EmptyIsZeroPercent(t *testing.T) {
	st, _, svc := setup(t)
	now := time.Now().UTC()
	wf := &types.Element{
		ID: "el-wf", Kind: types.KindWorkflow, Title: "wf", CreatedAt: now, UpdatedAt: now,
		CreatedBy: "el-system", Version: 1,
		Workflow: &types.WorkflowFields{Status: types.WorkflowRunning, Ephemeral: true},
	}
	mustCreate(t, st, wf)

	got, err := svc.WorkflowProgress("el-wf", now)
	if err != nil {
		t.Fatalf("WorkflowProgress() error: %v", err)
	}
	if got.TotalTasks != 0 || got.CompletionPercentage != 0 {
		t.Errorf("empty workflow progress = %+v, want zero values", got)
	}
}

func mustCreate(t *testing.T, st *store.Store, e *types.Element) {
	t.Helper()
	if err := st.CreateElement(e); err != nil {
		t.Fatalf("CreateElement(%s) error: %v", e.ID, err)
	}
}
