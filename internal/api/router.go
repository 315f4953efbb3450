package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elemental/daemon/internal/logging"
)

// handlers holds the dependencies every route handler closes over.
type handlers struct {
	deps Deps
	log  *logging.Logger
}

func (h *handlers) now() time.Time { return h.deps.Now().UTC() }

func (h *handlers) logf(msg string, keyvals ...any) {
	if h.log != nil {
		h.log.Info(msg, keyvals...)
	}
}

// register wires every route the HTTP surface exposes over the core.
func (h *handlers) register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/version", h.handleVersion)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", h.createTask)
		r.Get("/", h.listTasks)
		r.Get("/ready", h.readyTasks)
		r.Get("/blocked", h.blockedTasks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTask)
			r.Patch("/", h.patchTask)
			r.Delete("/", h.deleteTask)
			r.Post("/start", h.startTask)
			r.Post("/dispatch", h.dispatchTask)
			r.Post("/start-worker", h.dispatchTask)
			r.Post("/complete", h.completeTask)
			r.Post("/cleanup", h.cleanupTask)
		})
	})

	r.Route("/api/workflows", func(r chi.Router) {
		r.Post("/", h.createWorkflow)
		r.Get("/", h.listWorkflows)
		r.Post("/pour", h.pourWorkflow)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getWorkflow)
			r.Patch("/", h.patchWorkflow)
			r.Get("/progress", h.workflowProgress)
			r.Get("/tasks", h.workflowTasks)
			r.Post("/squash", h.squashWorkflow)
			r.Post("/burn", h.burnWorkflow)
		})
		r.Post("/gc", h.gcWorkflows)
	})

	r.Route("/api/agents/{id}", func(r chi.Router) {
		r.Post("/start", h.startSession)
		r.Post("/stop", h.stopSession)
		r.Post("/interrupt", h.interruptSession)
		r.Post("/resume", h.resumeSession)
		r.Post("/input", h.sendInput)
		r.Get("/stream", h.streamSession)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Get("/messages", h.sessionMessages)
		})
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.deps.Version})
}
