package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elemental/daemon/internal/agent"
	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/internal/task"
	"github.com/elemental/daemon/pkg/types"
)

type createTaskRequest struct {
	Title        string         `json:"title"`
	Priority     int            `json:"priority"`
	Complexity   int            `json:"complexity"`
	TaskType     types.TaskType `json:"taskType"`
	Assignee     *types.EntityId `json:"assignee,omitempty"`
	Owner        *types.EntityId `json:"owner,omitempty"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedBy    types.EntityId `json:"createdBy"`
	Ephemeral    bool           `json:"ephemeral,omitempty"`
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	if req.Title == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
		return
	}
	priority, complexity := req.Priority, req.Complexity
	if priority == 0 {
		priority = 3
	}
	if complexity == 0 {
		complexity = 3
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = types.TaskGeneric
	}

	e, err := h.deps.Elements.Create(&types.Element{
		Kind:     types.KindTask,
		Title:    req.Title,
		Tags:     req.Tags,
		Metadata: req.Metadata,
		Task: &types.TaskFields{
			Status:       types.TaskOpen,
			Priority:     priority,
			Complexity:   complexity,
			TaskType:     taskType,
			Assignee:     req.Assignee,
			Owner:        req.Owner,
			ScheduledFor: req.ScheduledFor,
			Deadline:     req.Deadline,
			Ephemeral:    req.Ephemeral,
		},
	}, h.now(), req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ElementFilter{
		Kind:       types.KindTask,
		Status:     q.Get("status"),
		Assignee:   types.EntityId(q.Get("assignee")),
		Unassigned: q.Get("unassigned") == "true",
	}
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil {
			filter.Limit = n
		}
	}
	tasks, err := h.deps.Elements.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	e, err := h.deps.Elements.Get(id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if e.Kind != types.KindTask {
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "not a task", nil)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type patchTaskRequest struct {
	Title       *string         `json:"title,omitempty"`
	Status      *types.TaskStatus `json:"status,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	Complexity  *int            `json:"complexity,omitempty"`
	Assignee    *types.EntityId `json:"assignee,omitempty"`
	Owner       *types.EntityId `json:"owner,omitempty"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Description *string         `json:"description,omitempty"`
	Version     int64           `json:"version,omitempty"`
}

func (h *handlers) patchTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	var req patchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}

	e, err := h.deps.Elements.Update(id, req.Version, h.now(), func(el *types.Element) error {
		if el.Kind != types.KindTask || el.Task == nil {
			return elemerr.Validation("element %s is not a task", id)
		}
		if req.Title != nil {
			el.Title = *req.Title
		}
		if req.Status != nil {
			el.Task.Status = *req.Status
		}
		if req.Priority != nil {
			el.Task.Priority = *req.Priority
		}
		if req.Complexity != nil {
			el.Task.Complexity = *req.Complexity
		}
		if req.Assignee != nil {
			el.Task.Assignee = req.Assignee
		}
		if req.Owner != nil {
			el.Task.Owner = req.Owner
		}
		if req.Deadline != nil {
			el.Task.Deadline = req.Deadline
		}
		if req.Tags != nil {
			el.Tags = req.Tags
		}
		if req.Description != nil {
			if el.Metadata == nil {
				el.Metadata = map[string]any{}
			}
			el.Metadata["description"] = *req.Description
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	if err := h.deps.Elements.Delete(id, h.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handlers) startTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	e, err := h.deps.Elements.Update(id, 0, h.now(), func(el *types.Element) error {
		if el.Kind != types.KindTask || el.Task == nil {
			return elemerr.Validation("element %s is not a task", id)
		}
		el.Task.Status = types.TaskInProgress
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// dispatchTask creates a worktree for the task and starts an agent
// session in it, binding the task's assignee as the session's agentId.
func (h *handlers) dispatchTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	e, err := h.deps.Elements.Get(id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if e.Kind != types.KindTask || e.Task == nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "not a task", nil)
		return
	}
	if e.Task.Assignee == nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_AGENT", "task has no assignee to dispatch", nil)
		return
	}
	agentID := *e.Task.Assignee

	var req struct {
		Prompt string `json:"prompt"`
		Base   string `json:"base"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	wt, err := h.deps.Worktree.CreateWorktree(r.Context(), string(agentID), id, e.Title, req.Base, h.now())
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.deps.Sessions.StartSession(agentID, agent.StartOptions{
		WorkingDirectory: wt.Path,
		WorktreePath:     wt.Path,
		InitialPrompt:    req.Prompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": rec, "worktree": wt})
}

func (h *handlers) completeTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	e, err := h.deps.Elements.Update(id, 0, h.now(), func(el *types.Element) error {
		if el.Kind != types.KindTask || el.Task == nil {
			return elemerr.Validation("element %s is not a task", id)
		}
		el.Task.Status = types.TaskClosed
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) cleanupTask(w http.ResponseWriter, r *http.Request) {
	id := types.ElementId(chi.URLParam(r, "id"))
	wts, err := h.deps.Worktree.ListWorktrees()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, wt := range wts {
		if wt.TaskID != id {
			continue
		}
		if err := h.deps.Worktree.RemoveWorktree(r.Context(), wt.Path, true, false, false); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (h *handlers) readyTasks(w http.ResponseWriter, r *http.Request) {
	f := taskFilterFromQuery(r)
	out, err := h.deps.Tasks.Ready(h.now(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) blockedTasks(w http.ResponseWriter, r *http.Request) {
	f := taskFilterFromQuery(r)
	out, err := h.deps.Tasks.Blocked(f)
	if err != nil {
		writeError(w, err)
		return
	}
	type blockedDTO struct {
		Task      *types.Element  `json:"task"`
		BlockedBy types.ElementId `json:"blockedBy"`
		Reason    string          `json:"reason"`
	}
	dto := make([]blockedDTO, len(out))
	for i, r := range out {
		dto[i] = blockedDTO{Task: r.Task, BlockedBy: r.BlockedBy, Reason: r.Reason}
	}
	writeJSON(w, http.StatusOK, dto)
}

func taskFilterFromQuery(r *http.Request) task.Filter {
	q := r.URL.Query()
	f := task.Filter{
		Assignee: types.EntityId(q.Get("assignee")),
		TaskType: types.TaskType(q.Get("taskType")),
	}
	if p := q.Get("priority"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			f.Priority = n
		}
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			f.Limit = n
		}
	}
	return f
}
