package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elemental/daemon/internal/agent"
	"github.com/elemental/daemon/internal/blocked"
	"github.com/elemental/daemon/internal/elements"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/internal/task"
	"github.com/elemental/daemon/internal/workflow"
	"github.com/elemental/daemon/pkg/types"
)

// newTestRouter wires a full in-memory core stack behind the HTTP edge.
func newTestRouter(t *testing.T) (http.Handler, *elements.API) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cache := blocked.New(st, nil)
	elementsAPI := elements.New(st, cache, nil)
	tasks := task.New(st, cache)
	workflowSvc := workflow.New(elementsAPI)
	sessions := agent.New(st, nil, "/bin/sh")
	sessions.SetArgsBuilder(func(prompt, resumeClaudeID string, interactive bool) []string {
		return []string{"-c", "sleep 30"}
	})

	playbookDir := t.TempDir()
	loader := playbook.NewLoader(playbookDir)
	writePlaybook(t, playbookDir, "ship-it", `name: ship-it
variables:
  - name: ship
    type: boolean
    default: false
steps:
  - id: build
    title: Build the artifact
  - id: deploy
    title: Deploy the artifact
    dependsOn: [build]
    condition: "{{ship}}"
`)

	r := chi.NewRouter()
	h := &handlers{deps: Deps{
		Elements: elementsAPI,
		Tasks:    tasks,
		Workflow: workflowSvc,
		Sessions: sessions,
		Loader:   loader,
		Version:  "test",
		Now:      time.Now,
	}}
	h.register(r)
	return r, elementsAPI
}

func writePlaybook(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, w).Error.Code
}

func createTaskViaAPI(t *testing.T, h http.Handler, title string) *types.Element {
	t.Helper()
	w := doJSON(t, h, "POST", "/api/tasks", map[string]any{"title": title, "createdBy": "el-0000"})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/tasks = %d: %s", w.Code, w.Body.String())
	}
	e := decode[*types.Element](t, w)
	return e
}

func TestCreateTaskValidation(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "POST", "/api/tasks", map[string]any{"createdBy": "el-0000"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", code)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	h, _ := newTestRouter(t)
	e := createTaskViaAPI(t, h, "write docs")
	if e.Task == nil || e.Task.Status != types.TaskOpen || e.Task.Priority != 3 {
		t.Errorf("defaults not materialized: %+v", e.Task)
	}

	w := doJSON(t, h, "GET", "/api/tasks/"+string(e.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET = %d", w.Code)
	}
	got := decode[*types.Element](t, w)
	if got.ID != e.ID || got.Title != "write docs" {
		t.Errorf("got %+v", got)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "GET", "/api/tasks/el-nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != "NOT_FOUND" {
		t.Errorf("code = %q", code)
	}
}

func TestPatchTaskStatusAndConflict(t *testing.T) {
	h, _ := newTestRouter(t)
	e := createTaskViaAPI(t, h, "refactor")

	w := doJSON(t, h, "PATCH", "/api/tasks/"+string(e.ID), map[string]any{"status": "in_progress"})
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH = %d: %s", w.Code, w.Body.String())
	}
	got := decode[*types.Element](t, w)
	if got.Task.Status != types.TaskInProgress {
		t.Errorf("status = %q", got.Task.Status)
	}
	if got.Version != e.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, e.Version+1)
	}

	// Stale expected version -> 409.
	w = doJSON(t, h, "PATCH", "/api/tasks/"+string(e.ID), map[string]any{"status": "open", "version": e.Version})
	if w.Code != http.StatusConflict {
		t.Errorf("stale patch = %d, want 409", w.Code)
	}

	// Any status may move to tombstone (in_progress -> tombstone is allowed).
	w = doJSON(t, h, "PATCH", "/api/tasks/"+string(e.ID), map[string]any{"status": "tombstone"})
	if w.Code != http.StatusOK {
		t.Fatalf("tombstone patch = %d", w.Code)
	}
}

func TestPatchTaskIllegalTransition(t *testing.T) {
	h, _ := newTestRouter(t)
	e := createTaskViaAPI(t, h, "one-way")
	w := doJSON(t, h, "POST", "/api/tasks/"+string(e.ID)+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete = %d", w.Code)
	}
	// closed -> in_progress is not in the transition table; reopen first.
	w = doJSON(t, h, "PATCH", "/api/tasks/"+string(e.ID), map[string]any{"status": "in_progress"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("illegal transition = %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", code)
	}
}

func TestDeleteTaskSoft(t *testing.T) {
	h, _ := newTestRouter(t)
	e := createTaskViaAPI(t, h, "ephemeral")

	w := doJSON(t, h, "DELETE", "/api/tasks/"+string(e.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE = %d", w.Code)
	}
	w = doJSON(t, h, "GET", "/api/tasks/"+string(e.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", w.Code)
	}
}

func TestStartTask(t *testing.T) {
	h, _ := newTestRouter(t)
	e := createTaskViaAPI(t, h, "kick off")
	w := doJSON(t, h, "POST", "/api/tasks/"+string(e.ID)+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	got := decode[*types.Element](t, w)
	if got.Task.Status != types.TaskInProgress {
		t.Errorf("status = %q, want in_progress", got.Task.Status)
	}
}

func TestReadyExcludesBlocked(t *testing.T) {
	h, api := newTestRouter(t)
	t1 := createTaskViaAPI(t, h, "T1")
	t2 := createTaskViaAPI(t, h, "T2")

	if err := api.AddDependency(&types.Dependency{
		SourceID: t2.ID, TargetID: t1.ID, Type: types.DepBlocks, CreatedBy: "el-0000",
	}, time.Now().UTC()); err != nil {
		t.Fatalf("AddDependency() error: %v", err)
	}

	w := doJSON(t, h, "GET", "/api/tasks/ready", nil)
	ready := decode[[]*types.Element](t, w)
	if len(ready) != 1 || ready[0].ID != t1.ID {
		t.Fatalf("ready = %v, want [T1]", ids(ready))
	}

	w = doJSON(t, h, "GET", "/api/tasks/blocked", nil)
	blockedOut := decode[[]map[string]any](t, w)
	if len(blockedOut) != 1 {
		t.Fatalf("blocked = %v, want one entry", blockedOut)
	}
	if got := blockedOut[0]["blockedBy"]; got != string(t1.ID) {
		t.Errorf("blockedBy = %v, want %s", got, t1.ID)
	}

	// Close T1; T2 becomes ready, T1 (closed) leaves the ready set.
	w = doJSON(t, h, "POST", "/api/tasks/"+string(t1.ID)+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, "GET", "/api/tasks/ready", nil)
	ready = decode[[]*types.Element](t, w)
	if len(ready) != 1 || ready[0].ID != t2.ID {
		t.Errorf("ready after close = %v, want [T2]", ids(ready))
	}
}

func ids(es []*types.Element) []types.ElementId {
	out := make([]types.ElementId, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func TestPourWithCondition(t *testing.T) {
	h, _ := newTestRouter(t)

	// Default ship=false: only build is created.
	w := doJSON(t, h, "POST", "/api/workflows/pour", map[string]any{
		"playbookId": "ship-it", "createdBy": "el-0000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("pour = %d: %s", w.Code, w.Body.String())
	}
	res := decode[map[string]any](t, w)
	created := res["createdTaskIds"].([]any)
	skipped := res["skippedStepIds"].([]any)
	if len(created) != 1 || len(skipped) != 1 {
		t.Errorf("created = %v, skipped = %v, want 1 and 1", created, skipped)
	}

	// ship=true: both created, deploy blocked by build.
	w = doJSON(t, h, "POST", "/api/workflows/pour", map[string]any{
		"playbookId": "ship-it", "variables": map[string]any{"ship": true}, "createdBy": "el-0000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("pour(ship) = %d: %s", w.Code, w.Body.String())
	}
	res = decode[map[string]any](t, w)
	if created := res["createdTaskIds"].([]any); len(created) != 2 {
		t.Errorf("created = %v, want 2 tasks", created)
	}
}

func TestPourUnknownPlaybook(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "POST", "/api/workflows/pour", map[string]any{"playbookId": "nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("pour(nope) = %d, want 404", w.Code)
	}
}

func TestWorkflowProgressAndTasks(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "POST", "/api/workflows/pour", map[string]any{
		"playbookId": "ship-it", "variables": map[string]any{"ship": true}, "createdBy": "el-0000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("pour = %d: %s", w.Code, w.Body.String())
	}
	res := decode[struct {
		Workflow *types.Element
	}](t, w)
	wfID := string(res.Workflow.ID)

	w = doJSON(t, h, "GET", "/api/workflows/"+wfID+"/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("progress = %d: %s", w.Code, w.Body.String())
	}
	progress := decode[map[string]any](t, w)
	if total := progress["totalTasks"]; total != float64(2) {
		t.Errorf("totalTasks = %v, want 2", total)
	}

	w = doJSON(t, h, "GET", "/api/workflows/"+wfID+"/tasks", nil)
	tasks := decode[[]*types.Element](t, w)
	if len(tasks) != 2 {
		t.Errorf("workflow tasks = %v, want 2", ids(tasks))
	}
}

func TestSquashAndBurnWorkflow(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "POST", "/api/workflows/pour", map[string]any{
		"playbookId": "ship-it", "ephemeral": true, "createdBy": "el-0000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("pour = %d", w.Code)
	}
	res := decode[struct {
		Workflow *types.Element
	}](t, w)
	wfID := string(res.Workflow.ID)

	w = doJSON(t, h, "POST", "/api/workflows/"+wfID+"/squash", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("squash = %d: %s", w.Code, w.Body.String())
	}
	squashed := decode[*types.Element](t, w)
	if squashed.Workflow.Ephemeral {
		t.Error("squash did not clear ephemeral")
	}

	// No longer ephemeral: burn without force is refused.
	w = doJSON(t, h, "POST", "/api/workflows/"+wfID+"/burn", nil)
	if w.Code == http.StatusOK {
		t.Fatal("burn of durable workflow succeeded without force")
	}
	w = doJSON(t, h, "POST", "/api/workflows/"+wfID+"/burn?force=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("burn(force) = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, "GET", "/api/workflows/"+wfID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after burn = %d, want 404", w.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	w := doJSON(t, h, "POST", "/api/agents/el-agent/start", map[string]any{
		"workingDirectory": t.TempDir(), "initialPrompt": "go",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start = %d: %s", w.Code, w.Body.String())
	}
	rec := decode[*types.SessionRecord](t, w)

	// Second start conflicts with SESSION_EXISTS.
	w = doJSON(t, h, "POST", "/api/agents/el-agent/start", map[string]any{"workingDirectory": t.TempDir()})
	if w.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", w.Code)
	}
	if code := errorCode(t, w); code != "SESSION_EXISTS" {
		t.Errorf("code = %q, want SESSION_EXISTS", code)
	}

	w = doJSON(t, h, "GET", "/api/sessions", nil)
	sessions := decode[[]*types.SessionRecord](t, w)
	if len(sessions) != 1 || sessions[0].ID != rec.ID {
		t.Errorf("sessions = %+v", sessions)
	}

	w = doJSON(t, h, "GET", "/api/sessions/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get session = %d", w.Code)
	}

	w = doJSON(t, h, "GET", "/api/sessions/"+rec.ID+"/messages", nil)
	msgs := decode[[]*types.Message](t, w)
	if len(msgs) != 1 || msgs[0].ID != "user-"+rec.ID+"-initial" {
		t.Errorf("messages = %+v, want the synthetic initial prompt", msgs)
	}

	w = doJSON(t, h, "POST", "/api/agents/el-agent/stop", map[string]any{"sessionId": rec.ID})
	if w.Code != http.StatusOK {
		t.Errorf("stop = %d: %s", w.Code, w.Body.String())
	}
}

func TestStopSessionUnknownSession(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "POST", "/api/agents/el-agent/stop", map[string]any{"sessionId": "ses-nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("stop = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != "NO_SESSION" {
		t.Errorf("code = %q, want NO_SESSION", code)
	}
}

func TestStreamRequiresActiveSession(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "GET", "/api/agents/el-agent/stream", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("stream = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != "NO_SESSION" {
		t.Errorf("code = %q, want NO_SESSION", code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	h, _ := newTestRouter(t)
	w := doJSON(t, h, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w = doJSON(t, h, "GET", "/version", nil)
	if v := decode[map[string]string](t, w)["version"]; v != "test" {
		t.Errorf("version = %q", v)
	}
}
