package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/blocked"
	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/elements"
	"github.com/elemental/daemon/internal/git"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/internal/task"
	"github.com/elemental/daemon/internal/workflow"
)

var version = "dev"

// env bundles every core component elemctl's commands are pure adapters
// over: a plain struct of handles, no globals. It is opened fresh for
// each invocation, since a CLI process is short-lived, unlike elementald.
type env struct {
	workspace string
	elemDir   string
	store     *store.Store
	elements  *elements.API
	cache     *blocked.Cache
	tasks     *task.Service
	workflow  *workflow.Service
	worktree  *git.Manager
	loader    *playbook.Loader
}

func (e *env) close() {
	if e != nil && e.store != nil {
		_ = e.store.Close()
	}
}

func openEnv(workspace string) (*env, error) {
	elemDir := filepath.Join(workspace, ".elemental")

	st, err := store.Open(filepath.Join(elemDir, "elemental.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	log, err := logging.New(filepath.Join(elemDir, "elementald.log"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open log: %w", err)
	}

	cache := blocked.New(st, log)
	elementsAPI := elements.New(st, cache, log)

	return &env{
		workspace: workspace,
		elemDir:   elemDir,
		store:     st,
		elements:  elementsAPI,
		cache:     cache,
		tasks:     task.New(st, cache),
		workflow:  workflow.New(elementsAPI),
		worktree:  git.New(workspace, st, log),
		loader:    playbook.NewLoader(filepath.Join(elemDir, "playbooks")),
	}, nil
}

// usageError marks a cobra flag-parsing failure so exitWithErr can map it
// to exit code 2 instead of the general-error code.
type usageError struct{ error }

// exitWithErr prints err and exits with the assigned code: 2 for invalid
// arguments, otherwise the code the error's Kind maps to.
func exitWithErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if _, ok := err.(usageError); ok {
		os.Exit(2)
	}
	os.Exit(elemerr.KindOf(err).ExitCode())
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// nowUTC is the clock elemctl's commands stamp updates with. A CLI
// invocation is a single point-in-time action, so there is no wall-clock
// to inject the way the daemon injects one for its background loops.
func nowUTC() time.Time {
	return time.Now().UTC()
}

func newRootCmd() *cobra.Command {
	var workspace string

	root := &cobra.Command{
		Use:           "elemctl",
		Short:         "Control and inspect an Elemental workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&workspace, "workspace", ".", "path to the workspace")
	root.Version = version
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		newTaskCmd(&workspace),
		newDepCmd(&workspace),
		newWorkflowCmd(&workspace),
		newEntityCmd(&workspace),
		newInitCmd(&workspace),
		newResetCmd(&workspace),
	)
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		exitWithErr(err)
	}
}
