package workflow

import (
	"testing"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

func TestSquash_FlipsEphemeralAndIsIdempotent(t *testing.T) {
	svc := setup(t)
	now := time.Now().UTC()
	result, _ := svc.Pour(PourInput{Playbook: simpleDef(), Ephemeral: true, CreatedBy: "el-system"}, now)

	squashed, err := svc.Squash(result.Workflow.ID, now)
	if err != nil {
		t.Fatalf("Squash() error: %v", err)
	}
	if squashed.Workflow.Ephemeral {
		t.Errorf("Squash() left ephemeral=true")
	}

	again, err := svc.Squash(result.Workflow.ID, now)
	if err != nil {
		t.Fatalf("Squash() (idempotent) error: %v", err)
	}
	if again.Workflow.Ephemeral {
		t.Errorf("second Squash() call changed ephemeral state")
	}
}

func TestBurn_RequiresEphemeralUnlessForced(t *testing.T) {
	svc := setup(t)
	now := time.Now().UTC()
	result, _ := svc.Pour(PourInput{Playbook: simpleDef(), Ephemeral: false, CreatedBy: "el-system"}, now)

	err := svc.Burn(result.Workflow.ID, false, now)
	if elemerr.KindOf(err) != elemerr.KindInvalidState {
		t.Errorf("Burn(durable, force=false) error kind = %v, want InvalidState", elemerr.KindOf(err))
	}

	if err := svc.Burn(result.Workflow.ID, true, now); err != nil {
		t.Fatalf("Burn(durable, force=true) error: %v", err)
	}
	if _, err := svc.elements.Get(result.Workflow.ID, true); elemerr.KindOf(err) != elemerr.KindNotFound {
		t.Errorf("workflow should be hard-deleted after Burn, got err=%v", err)
	}
}

func TestBurn_RemovesChildTasks(t *testing.T) {
	svc := setup(t)
	now := time.Now().UTC()
	result, _ := svc.Pour(PourInput{Playbook: simpleDef(), Variables: map[string]any{"ship": true}, Ephemeral: true, CreatedBy: "el-system"}, now)

	if err := svc.Burn(result.Workflow.ID, false, now); err != nil {
		t.Fatalf("Burn() error: %v", err)
	}
	for _, taskID := range result.CreatedTaskIDs {
		if _, err := svc.elements.Get(taskID, true); elemerr.KindOf(err) != elemerr.KindNotFound {
			t.Errorf("task %s should be hard-deleted after Burn, got err=%v", taskID, err)
		}
	}
}

func TestGC_DryRunReportsWithoutBurning(t *testing.T) {
	svc := setup(t)
	now := time.Now().UTC()
	result, _ := svc.Pour(PourInput{Playbook: simpleDef(), Ephemeral: true, CreatedBy: "el-system"}, now)

	// Run the workflow through its status machine two hours in the past;
	// the terminal transition stamps finishedAt, which GC keys off.
	finished := now.Add(-2 * time.Hour)
	_, err := svc.elements.Update(result.Workflow.ID, 0, finished, func(el *types.Element) error {
		el.Workflow.Status = types.WorkflowRunning
		return nil
	})
	if err != nil {
		t.Fatalf("transition to running error: %v", err)
	}
	wf, err := svc.elements.Update(result.Workflow.ID, 0, finished, func(el *types.Element) error {
		el.Workflow.Status = types.WorkflowCompleted
		return nil
	})
	if err != nil {
		t.Fatalf("transition to completed error: %v", err)
	}
	if wf.Workflow.FinishedAt == nil || !wf.Workflow.FinishedAt.Equal(finished) {
		t.Fatalf("FinishedAt = %v, want auto-stamped %v on terminal transition", wf.Workflow.FinishedAt, finished)
	}

	gc, err := svc.GC(time.Hour, true, now)
	if err != nil {
		t.Fatalf("GC() error: %v", err)
	}
	if len(gc.Burned) != 1 || gc.Burned[0] != result.Workflow.ID {
		t.Fatalf("GC(dryRun).Burned = %v, want [%s]", gc.Burned, result.Workflow.ID)
	}
	if _, err := svc.elements.Get(result.Workflow.ID, true); err != nil {
		t.Errorf("dry run should not burn, but workflow load failed: %v", err)
	}

	live, err := svc.GC(time.Hour, false, now)
	if err != nil {
		t.Fatalf("GC(live) error: %v", err)
	}
	if len(live.Burned) != 1 {
		t.Fatalf("GC(live).Burned = %v, want 1", live.Burned)
	}
	if _, err := svc.elements.Get(result.Workflow.ID, true); elemerr.KindOf(err) != elemerr.KindNotFound {
		t.Errorf("GC(live) should have burned the workflow, got err=%v", err)
	}
}

func TestGC_SkipsNonTerminalAndTooRecent(t *testing.T) {
	svc := setup(t)
	now := time.Now().UTC()
	result, _ := svc.Pour(PourInput{Playbook: simpleDef(), Ephemeral: true, CreatedBy: "el-system"}, now)

	gc, err := svc.GC(time.Hour, true, now)
	if err != nil {
		t.Fatalf("GC() error: %v", err)
	}
	for _, id := range gc.Burned {
		if id == result.Workflow.ID {
			t.Fatalf("GC() should skip a pending workflow, got it in %v", gc.Burned)
		}
	}
}
