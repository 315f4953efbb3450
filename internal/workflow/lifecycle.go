package workflow

import (
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

// Squash flips a workflow's ephemeral flag to false, making it durable
// henceforth. Idempotent: a no-op if the workflow is already durable.
func (s *Service) Squash(id types.ElementId, now time.Time) (*types.Element, error) {
	e, err := s.elements.Get(id, false)
	if err != nil {
		return nil, err
	}
	if e.Workflow == nil {
		return nil, elemerr.Validation("element %s is not a workflow", id)
	}
	if !e.Workflow.Ephemeral {
		return e, nil
	}
	return s.elements.Update(id, 0, now, func(el *types.Element) error {
		el.Workflow.Ephemeral = false
		return nil
	})
}

// Burn hard-deletes a workflow, its child tasks (one hop via
// parent-child), and every dependency touching any of them. It requires
// the workflow to be ephemeral unless force is set. A tombstoned
// workflow is not visible here and surfaces as NotFound, same as any
// other already-deleted element.
func (s *Service) Burn(id types.ElementId, force bool, now time.Time) error {
	e, err := s.elements.Get(id, false)
	if err != nil {
		return err
	}
	if e.Workflow == nil {
		return elemerr.Validation("element %s is not a workflow", id)
	}
	if !e.Workflow.Ephemeral && !force {
		return elemerr.InvalidState("workflow %s is not ephemeral; pass force to burn a durable workflow", id)
	}

	children, err := s.elements.GetDependents(id, []types.DependencyType{types.DepParentChild})
	if err != nil {
		return err
	}

	for _, c := range children {
		if err := s.elements.DeleteHard(c.SourceID, now); err != nil {
			return err
		}
	}
	return s.elements.DeleteHard(id, now)
}

// GCResult reports the outcome of a GC pass.
type GCResult struct {
	Burned []types.ElementId `json:"burned"`
	DryRun bool              `json:"dryRun"`
}

// GC selects ephemeral workflows in a terminal status whose finishedAt
// is at least maxAge in the past and burns them. In dry-run mode it
// only reports the list.
func (s *Service) GC(maxAge time.Duration, dryRun bool, now time.Time) (*GCResult, error) {
	candidates, err := s.elements.List(store.ElementFilter{Kind: types.KindWorkflow})
	if err != nil {
		return nil, err
	}

	result := &GCResult{DryRun: dryRun}
	for _, e := range candidates {
		if e.Workflow == nil || !e.Workflow.Ephemeral {
			continue
		}
		if !types.TerminalWorkflowStatuses[e.Workflow.Status] {
			continue
		}
		if e.Workflow.FinishedAt == nil || now.Sub(*e.Workflow.FinishedAt) < maxAge {
			continue
		}
		result.Burned = append(result.Burned, e.ID)
		if !dryRun {
			if err := s.Burn(e.ID, false, now); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
