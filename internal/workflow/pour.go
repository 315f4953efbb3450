// Package workflow pours a playbook into a running workflow + task
// graph, and implements the ephemeral-workflow lifecycle (squash/burn/gc)
// that reclaims them once finished.
package workflow

import (
	"fmt"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/elements"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/spell"
	"github.com/elemental/daemon/pkg/types"
)

// Service wires the Element API, a condition evaluator and a title
// renderer together to implement Pour/Squash/Burn/GC.
type Service struct {
	elements  *elements.API
	condition *ConditionEvaluator
	renderer  *spell.Renderer
}

// New constructs a Service over api.
func New(api *elements.API) *Service {
	return &Service{
		elements:  api,
		condition: NewConditionEvaluator(),
		renderer:  spell.NewRenderer(),
	}
}

// PourInput is the input to Pour.
type PourInput struct {
	Playbook  *playbook.Definition
	Variables map[string]any
	Ephemeral bool
	Title     string // optional override for the workflow's own title
	CreatedBy types.EntityId
}

// PourResult is Pour's return value.
type PourResult struct {
	Workflow       *types.Element    `json:"workflow"`
	CreatedTaskIDs []types.ElementId `json:"createdTaskIds"`
	SkippedStepIDs []string          `json:"skippedStepIds"`
}

// Pour instantiates a playbook into a workflow + task graph: resolve
// variables, evaluate each step's condition, create a Task per included
// step, translate dependsOn into blocks edges among the created tasks,
// then create the Workflow element and a parent-child edge from each
// created task to it.
func (s *Service) Pour(in PourInput, now time.Time) (*PourResult, error) {
	vars, err := resolveVariables(in.Playbook.Variables, in.Variables)
	if err != nil {
		return nil, err
	}

	included := make(map[string]bool, len(in.Playbook.Steps))
	var skipped []string
	for _, step := range in.Playbook.Steps {
		ok, err := s.condition.Evaluate(step.Condition, vars)
		if err != nil {
			return nil, elemerr.Validation("playbook %s step %s: %v", in.Playbook.Name, step.ID, err)
		}
		if ok {
			included[step.ID] = true
		} else {
			skipped = append(skipped, step.ID)
		}
	}

	taskIDs := make(map[string]types.ElementId, len(included))
	var createdTaskIDs []types.ElementId
	for _, step := range in.Playbook.Steps {
		if !included[step.ID] {
			continue
		}
		title, err := s.renderer.RenderTitle(step.ID, step.Title, spell.RenderContext(vars))
		if err != nil {
			return nil, elemerr.Validation("playbook %s step %s: title template: %v", in.Playbook.Name, step.ID, err)
		}
		task, err := s.elements.Create(&types.Element{
			Kind:  types.KindTask,
			Title: title,
			Task: &types.TaskFields{
				Status:     types.TaskOpen,
				Priority:   step.Priority,
				Complexity: step.Complexity,
				TaskType:   types.TaskGeneric,
				Ephemeral:  in.Ephemeral,
			},
		}, now, in.CreatedBy)
		if err != nil {
			return nil, err
		}
		taskIDs[step.ID] = task.ID
		createdTaskIDs = append(createdTaskIDs, task.ID)
	}

	for _, step := range in.Playbook.Steps {
		if !included[step.ID] {
			continue
		}
		for _, dep := range step.DependsOn {
			if !included[dep] {
				continue
			}
			d := &types.Dependency{
				SourceID:  taskIDs[step.ID],
				TargetID:  taskIDs[dep],
				Type:      types.DepBlocks,
				CreatedBy: in.CreatedBy,
			}
			if err := s.elements.AddDependency(d, now); err != nil {
				return nil, err
			}
		}
	}

	title := in.Title
	if title == "" {
		title = in.Playbook.Name
	}
	workflow, err := s.elements.Create(&types.Element{
		Kind:  types.KindWorkflow,
		Title: title,
		Workflow: &types.WorkflowFields{
			Status:    types.WorkflowPending,
			Ephemeral: in.Ephemeral,
			Variables: vars,
		},
	}, now, in.CreatedBy)
	if err != nil {
		return nil, err
	}

	for _, taskID := range createdTaskIDs {
		d := &types.Dependency{
			SourceID:  taskID,
			TargetID:  workflow.ID,
			Type:      types.DepParentChild,
			CreatedBy: in.CreatedBy,
		}
		if err := s.elements.AddDependency(d, now); err != nil {
			return nil, err
		}
	}

	return &PourResult{Workflow: workflow, CreatedTaskIDs: createdTaskIDs, SkippedStepIDs: skipped}, nil
}

// resolveVariables merges provided values with playbook defaults,
// failing on a missing required variable, a type mismatch, or an
// enum-membership violation.
func resolveVariables(defs []playbook.Variable, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(defs))
	for _, def := range defs {
		val, ok := provided[def.Name]
		if !ok {
			if def.Required {
				return nil, elemerr.Validation("missing required variable %q", def.Name)
			}
			val = def.Default
		}
		if val != nil {
			if err := checkType(def, val); err != nil {
				return nil, err
			}
			if len(def.Enum) > 0 && !enumContains(def.Enum, val) {
				return nil, elemerr.Validation("variable %q: value %v not in enum %v", def.Name, val, def.Enum)
			}
		}
		out[def.Name] = val
	}
	return out, nil
}

func checkType(def playbook.Variable, val any) error {
	switch def.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return elemerr.Validation("variable %q: expected string, got %T", def.Name, val)
		}
	case "number":
		switch val.(type) {
		case int, int64, float64, float32:
		default:
			return elemerr.Validation("variable %q: expected number, got %T", def.Name, val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return elemerr.Validation("variable %q: expected boolean, got %T", def.Name, val)
		}
	}
	return nil
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", val) {
			return true
		}
	}
	return false
}
