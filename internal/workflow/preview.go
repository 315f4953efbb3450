package workflow

import (
	"github.com/elemental/daemon/internal/spell"
)

// StepPreview reports what Pour would do for a single playbook step
// without creating anything.
type StepPreview struct {
	StepID  string `json:"stepId"`
	Title   string `json:"title"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// PreviewResult is the dry-run report for a would-be Pour.
type PreviewResult struct {
	Steps []StepPreview `json:"steps"`
}

// IsValid reports whether every step in the preview rendered and
// evaluated without error (a step being Skipped is not an error).
func (p *PreviewResult) IsValid() bool {
	for _, s := range p.Steps {
		if s.Reason != "" && !s.Skipped {
			return false
		}
	}
	return true
}

// PreviewPour resolves variables and evaluates every step's condition
// exactly as Pour would, but creates no Task or Workflow elements. Used
// by `workflow pour --dry-run` and the HTTP pour endpoint's dry-run mode;
// GC's dry run does not go through it.
func (s *Service) PreviewPour(in PourInput) (*PreviewResult, error) {
	vars, err := resolveVariables(in.Playbook.Variables, in.Variables)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{}
	for _, step := range in.Playbook.Steps {
		preview := StepPreview{StepID: step.ID}

		ok, err := s.condition.Evaluate(step.Condition, vars)
		if err != nil {
			preview.Reason = err.Error()
			result.Steps = append(result.Steps, preview)
			continue
		}
		if !ok {
			preview.Skipped = true
			preview.Reason = "condition evaluated to false"
			result.Steps = append(result.Steps, preview)
			continue
		}

		title, err := s.renderer.RenderTitle(step.ID, step.Title, spell.RenderContext(vars))
		if err != nil {
			preview.Reason = err.Error()
			result.Steps = append(result.Steps, preview)
			continue
		}
		preview.Title = title
		result.Steps = append(result.Steps, preview)
	}
	return result, nil
}
