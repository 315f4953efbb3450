package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/elemental/daemon/internal/agent"
	"github.com/elemental/daemon/internal/elements"
	"github.com/elemental/daemon/internal/git"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/task"
	"github.com/elemental/daemon/internal/workflow"
)

// Deps bundles every core component the HTTP edge adapts over. Nothing
// in this package holds state of its own beyond these handles: a plain
// struct passed in at construction, no globals.
type Deps struct {
	Elements *elements.API
	Tasks    *task.Service
	Workflow *workflow.Service
	Worktree *git.Manager
	Sessions *agent.Manager
	Loader   *playbook.Loader
	Version  string
	Now      func() time.Time
}

// Server is the HTTP+SSE edge in front of the core.
type Server struct {
	http *http.Server
	log  *logging.Logger
}

// NewServer builds a chi router wired to deps and an http.Server
// listening on addr.
func NewServer(addr string, deps Deps, log *logging.Logger) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handlers{deps: deps, log: log}
	h.register(r)

	return &Server{
		http: &http.Server{Addr: addr, Handler: r},
		log:  log,
	}
}

// Start begins serving in the background, returning once listening or
// on immediate failure.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the server's configured listen address.
func (s *Server) Addr() string { return s.http.Addr }
