// Package task implements the Ready/Blocked/Progress queries over the
// task graph. It composes the Store and the Blocked Cache rather than
// owning any state of its own.
package task

import (
	"sort"
	"time"

	"github.com/elemental/daemon/internal/blocked"
	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

// Service answers ready/blocked/progress questions over the task graph.
type Service struct {
	store *store.Store
	cache *blocked.Cache
}

// New constructs a Service over st and c.
func New(st *store.Store, c *blocked.Cache) *Service {
	return &Service{store: st, cache: c}
}

// Filter restricts both Ready and Blocked queries.
type Filter struct {
	Assignee types.EntityId
	Priority int
	TaskType types.TaskType
	Limit    int
}

func (s *Service) candidateTasks(f Filter) ([]*types.Element, error) {
	return s.store.ListElements(store.ElementFilter{
		Kind:     types.KindTask,
		Assignee: f.Assignee,
		Priority: f.Priority,
		TaskType: f.TaskType,
	})
}

// Ready returns tasks with status open or in_progress that are not in the
// blocked cache and whose scheduledFor is null or has already passed.
// Ordered (priority asc, scheduledFor asc nulls-first, createdAt asc).
func (s *Service) Ready(now time.Time, f Filter) ([]*types.Element, error) {
	candidates, err := s.candidateTasks(f)
	if err != nil {
		return nil, err
	}

	var ready []*types.Element
	for _, e := range candidates {
		if e.Task == nil {
			continue
		}
		if e.Task.Status != types.TaskOpen && e.Task.Status != types.TaskInProgress {
			continue
		}
		if e.Task.ScheduledFor != nil && e.Task.ScheduledFor.After(now) {
			continue
		}
		entry, err := s.store.GetBlocked(e.ID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			continue
		}
		ready = append(ready, e)
	}

	sortByPriorityScheduleCreated(ready)
	if f.Limit > 0 && len(ready) > f.Limit {
		ready = ready[:f.Limit]
	}
	return ready, nil
}

func sortByPriorityScheduleCreated(tasks []*types.Element) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].Task, tasks[j].Task
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		as, bs := a.ScheduledFor, b.ScheduledFor
		switch {
		case as == nil && bs == nil:
			// fall through to createdAt
		case as == nil:
			return true
		case bs == nil:
			return false
		case !as.Equal(*bs):
			return as.Before(*bs)
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// BlockedResult pairs a blocked task with its cache entry.
type BlockedResult struct {
	Task      *types.Element
	BlockedBy types.ElementId
	Reason    string
}

// Blocked returns every task with status `blocked` or present in the
// blocked cache, annotated with the cache's blockedBy/reason.
func (s *Service) Blocked(f Filter) ([]*BlockedResult, error) {
	candidates, err := s.candidateTasks(f)
	if err != nil {
		return nil, err
	}

	var out []*BlockedResult
	for _, e := range candidates {
		if e.Task == nil {
			continue
		}
		entry, err := s.store.GetBlocked(e.ID)
		if err != nil {
			return nil, err
		}
		if entry == nil && e.Task.Status != types.TaskBlocked {
			continue
		}
		res := &BlockedResult{Task: e}
		if entry != nil {
			res.BlockedBy = entry.BlockedBy
			res.Reason = entry.Reason
		}
		out = append(out, res)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Task.CreatedAt.Before(out[j].Task.CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Progress summarizes a workflow's children.
type Progress struct {
	TotalTasks           int                      `json:"totalTasks"`
	StatusCounts         map[types.TaskStatus]int `json:"statusCounts"`
	ReadyTasks           int                      `json:"readyTasks"`
	BlockedTasks         int                      `json:"blockedTasks"`
	CompletionPercentage int                      `json:"completionPercentage"`
}

// WorkflowProgress enumerates every task reachable from workflowID via one
// hop of `parent-child` (child -> workflow edges) and computes aggregate
// status.
func (s *Service) WorkflowProgress(workflowID types.ElementId, now time.Time) (*Progress, error) {
	wf, err := s.store.GetElement(workflowID, false)
	if err != nil {
		return nil, err
	}
	if wf.Kind != types.KindWorkflow {
		return nil, elemerr.Validation("element %s is not a workflow", workflowID)
	}

	children, err := s.store.GetDependents(workflowID, []types.DependencyType{types.DepParentChild})
	if err != nil {
		return nil, err
	}

	p := &Progress{StatusCounts: map[types.TaskStatus]int{}}
	for _, dep := range children {
		e, err := s.store.GetElement(dep.SourceID, false)
		if err != nil {
			continue // tombstoned or gone: excluded from progress accounting
		}
		if e.Kind != types.KindTask || e.Task == nil {
			continue
		}
		p.TotalTasks++
		p.StatusCounts[e.Task.Status]++

		entry, err := s.store.GetBlocked(e.ID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			p.BlockedTasks++
			continue
		}
		if (e.Task.Status == types.TaskOpen || e.Task.Status == types.TaskInProgress) &&
			(e.Task.ScheduledFor == nil || !e.Task.ScheduledFor.After(now)) {
			p.ReadyTasks++
		}
	}

	if p.TotalTasks == 0 {
		p.CompletionPercentage = 0
		return p, nil
	}
	closed := p.StatusCounts[types.TaskClosed]
	p.CompletionPercentage = int((100*closed + p.TotalTasks/2) / p.TotalTasks) // round to nearest
	return p, nil
}
