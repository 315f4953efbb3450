// Package daemon wires every core component into a single long-running
// process: it owns the Store, the Blocked Cache, the Task/Workflow
// services, the Worktree Manager, the Session Manager and the HTTP+SSE
// edge, and coordinates their startup and graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elemental/daemon/internal/agent"
	"github.com/elemental/daemon/internal/api"
	"github.com/elemental/daemon/internal/blocked"
	"github.com/elemental/daemon/internal/config"
	"github.com/elemental/daemon/internal/elements"
	"github.com/elemental/daemon/internal/events"
	"github.com/elemental/daemon/internal/git"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/internal/task"
	"github.com/elemental/daemon/internal/workflow"
)

// dirName is the workspace-relative directory the daemon owns.
const dirName = ".elemental"

// Daemon owns the process lifetime: bootstrap order, the HTTP server,
// the timer-gate ticker, the playbook watcher and signal-driven shutdown.
type Daemon struct {
	workspace    string
	elementalDir string
	version      string
	config       *config.Config
	logger       *logging.Logger

	store    *store.Store
	bus      *events.Bus
	elements *elements.API
	cache    *blocked.Cache
	tasks    *task.Service
	workflow *workflow.Service
	worktree *git.Manager
	sessions *agent.Manager
	loader   *playbook.Loader
	watcher  *playbook.Watcher
	server   *api.Server

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New bootstraps every component for workspace without starting the
// server or background loops (call Run for that). Bootstrap order is
// Store -> Blocked Cache -> Element API -> Task/Workflow services ->
// Git Manager -> Agent Manager -> HTTP server, matching each component's
// own dependency graph.
func New(workspace, version string) (*Daemon, error) {
	elementalDir := filepath.Join(workspace, dirName)
	if err := os.MkdirAll(elementalDir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dirName, err)
	}
	if err := os.MkdirAll(filepath.Join(elementalDir, "playbooks"), 0755); err != nil {
		return nil, fmt.Errorf("create playbooks dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(elementalDir, "uploads"), 0755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	cfg, err := config.Load(elementalDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(filepath.Join(elementalDir, "elementald.log"))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	st, err := store.Open(filepath.Join(elementalDir, "elemental.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache := blocked.New(st, logger)
	bus := events.NewBus()
	elementsAPI := elements.New(st, cache, logger)
	elementsAPI.SetEventBus(bus)
	tasks := task.New(st, cache)
	workflowSvc := workflow.New(elementsAPI)
	worktree := git.New(workspace, st, logger)
	sessions := agent.New(st, logger, cfg.AgentCommand)
	sessions.SetGracePeriod(time.Duration(cfg.GraceSeconds) * time.Second)
	sessions.SetExtraArgs(cfg.AgentArgs)
	sessions.SetQueueSize(cfg.EventQueueSize)

	loader := playbook.NewLoader(filepath.Join(elementalDir, "playbooks"))
	watcher, err := playbook.NewWatcher(loader, filepath.Join(elementalDir, "playbooks"), logger)
	if err != nil {
		return nil, fmt.Errorf("start playbook watcher: %w", err)
	}

	server := api.NewServer(fmt.Sprintf(":%d", cfg.Port), api.Deps{
		Elements: elementsAPI,
		Tasks:    tasks,
		Workflow: workflowSvc,
		Worktree: worktree,
		Sessions: sessions,
		Loader:   loader,
		Version:  version,
	}, logger)

	return &Daemon{
		workspace:    workspace,
		elementalDir: elementalDir,
		version:      version,
		config:       cfg,
		logger:       logger,
		store:        st,
		bus:          bus,
		elements:     elementsAPI,
		cache:        cache,
		tasks:        tasks,
		workflow:     workflowSvc,
		worktree:     worktree,
		sessions:     sessions,
		loader:       loader,
		watcher:      watcher,
		server:       server,
		shutdownCh:   make(chan struct{}),
	}, nil
}

// Run starts the daemon and blocks until ctx is cancelled, a shutdown
// signal arrives, or Shutdown is called. It rebuilds the Blocked Cache
// from scratch on boot as a recovery measure, then ticks timer gates and
// hot-reloads playbooks in the background.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.checkAndCleanStale(); err != nil {
		return err
	}
	if err := d.writePIDFile(); err != nil {
		return err
	}
	defer d.removePIDFile()

	if _, err := d.worktree.InitWorkspace(ctx); err != nil {
		d.logger.Warn("failed to initialize worktree workspace", "error", err)
	}

	now := time.Now().UTC()
	if err := d.cache.Rebuild(now); err != nil {
		return fmt.Errorf("rebuild blocked cache: %w", err)
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	d.logger.Info("daemon started", "workspace", d.workspace, "version", d.version, "port", d.config.Port)

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error { return d.tickTimerGates(gctx) })
	g.Go(func() error { return d.watchPlaybooks(gctx) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		d.logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		d.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-d.shutdownCh:
		d.logger.Info("shutdown requested")
	}

	cancelBg()
	_ = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Stop(shutdownCtx); err != nil {
		d.logger.Error("failed to stop server", "error", err)
		return err
	}
	_ = d.watcher.Close()
	_ = d.store.Close()
	_ = d.logger.Close()
	return nil
}

// Shutdown triggers a graceful shutdown of a running daemon.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// tickTimerGates re-evaluates every timer-gated dependency once per
// config.PollInterval.
func (d *Daemon) tickTimerGates(ctx context.Context) error {
	interval := time.Duration(d.config.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if err := d.cache.TickTimerGates(t.UTC()); err != nil {
				d.logger.Warn("failed to tick timer gates", "error", err)
			}
		}
	}
}

// watchPlaybooks hot-reloads playbook definitions as their backing files
// change on disk, via fsnotify.
func (d *Daemon) watchPlaybooks(ctx context.Context) error {
	return d.watcher.Run(ctx, func(ev playbook.ChangeEvent) {
		if ev.Err != nil {
			d.logger.Warn("playbook reload failed", "name", ev.Name, "error", ev.Err)
			return
		}
		d.logger.Info("playbook reloaded", "name", ev.Name)
	})
}

func (d *Daemon) pidFilePath() string {
	return filepath.Join(d.elementalDir, "elementald.pid")
}

func (d *Daemon) writePIDFile() error {
	return os.WriteFile(d.pidFilePath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func (d *Daemon) removePIDFile() {
	os.Remove(d.pidFilePath())
}

// checkAndCleanStale refuses to start if another elementald is already
// running against this workspace, and cleans up a stale PID file left
// behind by a process that died without shutting down gracefully.
func (d *Daemon) checkAndCleanStale() error {
	data, err := os.ReadFile(d.pidFilePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(d.pidFilePath())
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(d.pidFilePath())
		return nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		d.logger.Info("cleaning up stale daemon", "pid", pid)
		os.Remove(d.pidFilePath())
		return nil
	}
	return fmt.Errorf("daemon already running with pid %d", pid)
}

// Reset tears down the workspace's persisted state: the
// database file (and its WAL/SHM siblings), the blocked cache rows
// within it, and the PID/log files. With full=false config.yaml and the
// playbooks/, uploads/ and .worktrees/ directories are left untouched; with full=true
// those are removed too and only the bare workspace is left behind. The
// caller is responsible for having already stopped any running daemon
// (see checkAndCleanStale's pid-file convention) before calling Reset.
func Reset(workspace string, full bool) error {
	elementalDir := filepath.Join(workspace, dirName)
	for _, name := range []string{"elemental.db", "elemental.db-wal", "elemental.db-shm", "elementald.pid", "elementald.log"} {
		if err := os.Remove(filepath.Join(elementalDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	if !full {
		return nil
	}
	for _, name := range []string{"config.yaml", "playbooks", "uploads", ".worktrees"} {
		if err := os.RemoveAll(filepath.Join(elementalDir, name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// Workspace returns the workspace root path.
func (d *Daemon) Workspace() string { return d.workspace }

// Version returns the daemon's version string.
func (d *Daemon) Version() string { return d.version }

// Config returns the daemon's loaded configuration.
func (d *Daemon) Config() *config.Config { return d.config }

// Events returns the change-event bus element mutations are announced on.
func (d *Daemon) Events() *events.Bus { return d.bus }
