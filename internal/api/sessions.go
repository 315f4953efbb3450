package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elemental/daemon/internal/agent"
	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

type startSessionRequest struct {
	WorkingDirectory string `json:"workingDirectory"`
	WorktreePath     string `json:"worktreePath,omitempty"`
	InitialPrompt    string `json:"initialPrompt,omitempty"`
	Interactive      bool   `json:"interactive,omitempty"`
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	agentID := types.ElementId(chi.URLParam(r, "id"))
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	if req.WorkingDirectory == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "workingDirectory is required", nil)
		return
	}
	rec, err := h.deps.Sessions.StartSession(agentID, agent.StartOptions{
		WorkingDirectory: req.WorkingDirectory,
		WorktreePath:     req.WorktreePath,
		InitialPrompt:    req.InitialPrompt,
		Interactive:      req.Interactive,
	})
	if err != nil {
		if elemerr.KindOf(err) == elemerr.KindConflict {
			writeErrorCode(w, http.StatusConflict, "SESSION_EXISTS", err.Error(), nil)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type resumeSessionRequest struct {
	ClaudeSessionID  string `json:"claudeSessionId,omitempty"`
	WorkingDirectory string `json:"workingDirectory"`
	WorktreePath     string `json:"worktreePath,omitempty"`
	InitialPrompt    string `json:"initialPrompt,omitempty"`
}

func (h *handlers) resumeSession(w http.ResponseWriter, r *http.Request) {
	agentID := types.ElementId(chi.URLParam(r, "id"))
	var req resumeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	rec, uwp, err := h.deps.Sessions.ResumeSession(agentID, agent.ResumeOptions{
		ClaudeSessionID:  req.ClaudeSessionID,
		WorkingDirectory: req.WorkingDirectory,
		WorktreePath:     req.WorktreePath,
		InitialPrompt:    req.InitialPrompt,
	})
	if err != nil {
		switch elemerr.KindOf(err) {
		case elemerr.KindConflict:
			writeErrorCode(w, http.StatusConflict, "SESSION_EXISTS", err.Error(), nil)
		case elemerr.KindNotFound:
			writeErrorCode(w, http.StatusNotFound, "NO_RESUMABLE_SESSION", err.Error(), nil)
		default:
			writeError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": rec, "unfinishedWork": uwp})
}

func (h *handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Graceful  bool   `json:"graceful"`
		Reason    string `json:"reason,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.SessionID == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "sessionId is required", nil)
		return
	}
	if err := h.deps.Sessions.StopSession(req.SessionID, req.Graceful, req.Reason); err != nil {
		writeErrorCode(w, http.StatusNotFound, "NO_SESSION", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (h *handlers) interruptSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.SessionID == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "sessionId is required", nil)
		return
	}
	if err := h.deps.Sessions.InterruptSession(req.SessionID); err != nil {
		writeErrorCode(w, http.StatusNotFound, "NO_SESSION", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (h *handlers) sendInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID     string `json:"sessionId"`
		Input         string `json:"input"`
		IsUserMessage bool   `json:"isUserMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return
	}
	if req.SessionID == "" || req.Input == "" {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "sessionId and input are required", nil)
		return
	}
	if err := h.deps.Sessions.SendInput(req.SessionID, req.Input, req.IsUserMessage); err != nil {
		writeErrorCode(w, http.StatusNotFound, "NO_SESSION", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{
		AgentID: types.ElementId(q.Get("agentId")),
		Status:  types.SessionStatus(q.Get("status")),
	}
	out, err := h.deps.Sessions.ListSessions(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.deps.Sessions.GetSession(id)
	if err != nil {
		writeErrorCode(w, http.StatusNotFound, "NO_SESSION", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":          rec,
		"pendingQuestions": h.deps.Sessions.PendingQuestions(id),
	})
}

func (h *handlers) sessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var after time.Time
	if a := r.URL.Query().Get("after"); a != "" {
		if t, err := time.Parse(time.RFC3339, a); err == nil {
			after = t
		}
	}
	msgs, err := h.deps.Sessions.ListMessages(id, after)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// streamSession upgrades to a Server-Sent Events stream of a session's
// agent event history: connected, agent_user, agent_<eventType>,
// agent_error, agent_exit, heartbeat and overflow frames, each carrying
// a stable msgId where the underlying event has one.
func (h *handlers) streamSession(w http.ResponseWriter, r *http.Request) {
	agentID := types.ElementId(chi.URLParam(r, "id"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported", nil)
		return
	}

	active, err := h.deps.Sessions.GetActiveSession(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if active == nil {
		writeErrorCode(w, http.StatusNotFound, "NO_SESSION", "no active session for agent "+string(agentID), nil)
		return
	}

	ch, cancel, err := h.deps.Sessions.Subscribe(r.Context(), active.ID)
	if err != nil {
		writeErrorCode(w, http.StatusNotFound, "NO_EVENTS", err.Error(), nil)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSEFrame(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, ev agent.SSEEvent) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		payload = []byte(`{}`)
	}
	if ev.ID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
