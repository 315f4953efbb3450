package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/internal/workflow"
	"github.com/elemental/daemon/pkg/types"
)

type pourWorkflowRequest struct {
	PlaybookID string         `json:"playbookId"`
	Variables  map[string]any `json:"variables,omitempty"`
	Ephemeral  bool           `json:"ephemeral,omitempty"`
	Title      string         `json:"title,omitempty"`
	CreatedBy  types.EntityId `json:"createdBy"`
	Preview    bool           `json:"preview,omitempty"`
}

func (h *handlers) pourWorkflow(w http.ResponseWriter, r *http.Request) {
	var req pourWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	if req.PlaybookID == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "playbookId is required", nil)
		return
	}

	def, err := workflow.ResolvePlaybook(h.deps.Elements, h.deps.Loader, req.PlaybookID)
	if err != nil {
		if playbook.IsNotFound(err) {
			writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		writeError(w, err)
		return
	}
	if err := playbook.Validate(def); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	in := workflow.PourInput{
		Playbook:  def,
		Variables: req.Variables,
		Ephemeral: req.Ephemeral,
		Title:     req.Title,
		CreatedBy: req.CreatedBy,
	}

	if req.Preview {
		preview, err := h.deps.Workflow.PreviewPour(in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	result, err := h.deps.Workflow.Pour(in, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handlers) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string         `json:"title"`
		Ephemeral bool           `json:"ephemeral,omitempty"`
		Variables map[string]any `json:"variables,omitempty"`
		CreatedBy types.EntityId `json:"createdBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	if req.Title == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
		return
	}
	e, err := h.deps.Elements.Create(&types.Element{
		Kind:  types.KindWorkflow,
		Title: req.Title,
		Workflow: &types.WorkflowFields{
			Status:    types.WorkflowPending,
			Ephemeral: req.Ephemeral,
			Variables: req.Variables,
		},
	}, h.now(), req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ElementFilter{Kind: types.KindWorkflow, Status: q.Get("status")}
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil {
			filter.Limit = n
		}
	}
	out, err := h.deps.Elements.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	e, err := h.deps.Elements.Get(id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if e.Kind != types.KindWorkflow {
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "not a workflow", nil)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) patchWorkflow(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	var req struct {
		Title         *string               `json:"title,omitempty"`
		Status        *types.WorkflowStatus `json:"status,omitempty"`
		FailureReason *string               `json:"failureReason,omitempty"`
		CancelReason  *string               `json:"cancelReason,omitempty"`
		Version       int64                 `json:"version,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	e, err := h.deps.Elements.Update(id, req.Version, h.now(), func(el *types.Element) error {
		if el.Kind != types.KindWorkflow || el.Workflow == nil {
			return elemerr.Validation("element %s is not a workflow", id)
		}
		if req.Title != nil {
			el.Title = *req.Title
		}
		if req.Status != nil {
			el.Workflow.Status = *req.Status
		}
		if req.FailureReason != nil {
			el.Workflow.FailureReason = *req.FailureReason
		}
		if req.CancelReason != nil {
			el.Workflow.CancelReason = *req.CancelReason
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) workflowProgress(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	p, err := h.deps.Tasks.WorkflowProgress(id, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) workflowTasks(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	deps, err := h.deps.Elements.GetDependents(id, []types.DependencyType{types.DepParentChild})
	if err != nil {
		writeError(w, err)
		return
	}
	var out []*types.Element
	for _, d := range deps {
		e, err := h.deps.Elements.Get(d.SourceID, false)
		if err != nil {
			continue
		}
		if e.Kind == types.KindTask {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) squashWorkflow(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	e, err := h.deps.Workflow.Squash(id, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) burnWorkflow(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	force := r.URL.Query().Get("force") == "true"
	if err := h.deps.Workflow.Burn(id, force, h.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "burned"})
}

func (h *handlers) gcWorkflows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxAgeSeconds int  `json:"maxAgeSeconds"`
		DryRun        bool `json:"dryRun"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	maxAge := time.Duration(req.MaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	result, err := h.deps.Workflow.GC(maxAge, req.DryRun, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
