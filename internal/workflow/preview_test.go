package workflow

import (
	"testing"

	"github.com/elemental/daemon/internal/store"
)

func TestPreviewPour_ReportsSkippedAndIncludedSteps(t *testing.T) {
	svc := setup(t)

	preview, err := svc.PreviewPour(PourInput{Playbook: simpleDef(), Variables: map[string]any{}})
	if err != nil {
		t.Fatalf("PreviewPour() error: %v", err)
	}
	if len(preview.Steps) != 2 {
		t.Fatalf("preview.Steps = %+v, want 2 entries", preview.Steps)
	}
	if preview.Steps[0].Skipped {
		t.Errorf("build step should not be skipped, got %+v", preview.Steps[0])
	}
	if !preview.Steps[1].Skipped {
		t.Errorf("deploy step should be skipped when ship=false, got %+v", preview.Steps[1])
	}
	if !preview.IsValid() {
		t.Errorf("IsValid() = false, want true (skip is not an error)")
	}
}

func TestPreviewPour_CreatesNothing(t *testing.T) {
	svc := setup(t)

	if _, err := svc.PreviewPour(PourInput{Playbook: simpleDef(), Variables: map[string]any{"ship": true}}); err != nil {
		t.Fatalf("PreviewPour() error: %v", err)
	}
	elems, err := svc.elements.List(store.ElementFilter{IncludeTombstone: true})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(elems) != 0 {
		t.Errorf("PreviewPour() should not persist anything, found %d elements", len(elems))
	}
}

func TestPreviewPour_ReportsInvalidOnMissingRequiredVariable(t *testing.T) {
	svc := setup(t)
	def := simpleDef()
	def.Variables[0].Required = true
	def.Variables[0].Default = nil

	_, err := svc.PreviewPour(PourInput{Playbook: def, Variables: map[string]any{}})
	if err == nil {
		t.Fatal("PreviewPour() error = nil, want error for missing required variable")
	}
}
