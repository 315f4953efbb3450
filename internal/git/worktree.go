// Package git manages the git worktrees that back per-agent-session
// workspaces.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

// Manager creates, tracks, and removes git worktrees under a workspace's
// `.elemental/.worktrees/` directory.
type Manager struct {
	repoPath string
	store    *store.Store
	log      *logging.Logger
}

// New constructs a Manager rooted at repoPath (the git repo's working
// directory, not the worktree directory itself).
func New(repoPath string, st *store.Store, log *logging.Logger) *Manager {
	return &Manager{repoPath: repoPath, store: st, log: log}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9-]+`)

// safe lowercases name, maps every run of characters outside [a-z0-9-]
// to a single dash and trims leading and trailing dashes. Dashes already
// present in name are kept as they are.
func safe(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// slug derives a filesystem/branch-safe fragment from a human title:
// lowercase, non-alphanumerics collapsed to a single dash, trimmed,
// truncated to 40 characters.
func slug(title string) string {
	s := safe(title)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	return s
}

// Branch derives the worktree's branch name from (agentName, taskId,
// title). The derivation is deterministic so a task always maps to the
// same branch.
func Branch(agentName string, taskID types.ElementId, title string) string {
	b := "agent/" + safe(agentName) + "/" + string(taskID)
	if s := slug(title); s != "" {
		b += "-" + s
	}
	return b
}

// RelativePath derives the worktree's path, relative to the workspace
// root, from (agentName, title).
func RelativePath(agentName, title string) string {
	p := ".elemental/.worktrees/" + safe(agentName)
	if s := slug(title); s != "" {
		p += "-" + s
	}
	return p
}

// InitWorkspace verifies a git repo exists at the manager's root, ensures
// the worktree directory exists and is gitignored, prunes stale worktree
// entries, and detects the default branch. Idempotent.
func (m *Manager) InitWorkspace(ctx context.Context) (defaultBranch string, err error) {
	if err := m.runGit(ctx, "rev-parse", "--git-dir"); err != nil {
		return "", elemerr.Validation("%s is not a git repository: %v", m.repoPath, err)
	}

	worktreesDir := filepath.Join(m.repoPath, ".elemental", ".worktrees")
	if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
		return "", elemerr.Internal(err, "create worktrees directory")
	}
	if err := m.ensureGitignored(".elemental/.worktrees/"); err != nil {
		return "", err
	}

	_ = m.runGit(ctx, "worktree", "prune")

	return m.detectDefaultBranch(ctx)
}

func (m *Manager) ensureGitignored(pattern string) error {
	path := filepath.Join(m.repoPath, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return elemerr.Internal(err, "read .gitignore")
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == strings.TrimSuffix(pattern, "/") || strings.TrimSpace(line) == pattern {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return elemerr.Internal(err, "open .gitignore")
	}
	defer f.Close()
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return elemerr.Internal(err, "write .gitignore")
		}
	}
	_, err = f.WriteString(pattern + "\n")
	if err != nil {
		return elemerr.Internal(err, "write .gitignore")
	}
	return nil
}

func (m *Manager) detectDefaultBranch(ctx context.Context) (string, error) {
	if out, err := m.gitOutput(ctx, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		return strings.TrimPrefix(strings.TrimSpace(out), "origin/"), nil
	}
	for _, candidate := range []string{"main", "master", "develop"} {
		if m.runGit(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+candidate) == nil {
			return candidate, nil
		}
	}
	out, err := m.gitOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", elemerr.Internal(err, "detect current branch")
	}
	return strings.TrimSpace(out), nil
}

// CreateWorktree adds a new worktree for an agent/task pair: fails if the
// path already exists, records a `creating` state, adds the git
// worktree (reusing an existing branch of that name or creating one off
// base), attempts to wire an upstream (ignoring failure), then marks the
// entry `active`. On any git failure, it best-effort removes the
// worktree and drops the state record.
func (m *Manager) CreateWorktree(ctx context.Context, agentName string, taskID types.ElementId, title, base string, now time.Time) (*types.WorktreeRecord, error) {
	relPath := RelativePath(agentName, title)
	absPath := filepath.Join(m.repoPath, relPath)
	branch := Branch(agentName, taskID, title)

	if _, err := os.Stat(absPath); err == nil {
		return nil, elemerr.Conflict("worktree path %s already exists", relPath)
	}

	rec := &types.WorktreeRecord{
		Path: absPath, RelativePath: relPath, Branch: branch,
		State: types.WorktreeCreating, AgentName: agentName, TaskID: taskID, CreatedAt: now,
	}
	if err := m.store.CreateWorktree(rec); err != nil {
		return nil, err
	}

	if err := m.addWorktree(ctx, absPath, branch, base); err != nil {
		_ = m.runGit(ctx, "worktree", "remove", "--force", absPath)
		_ = m.store.DeleteWorktree(absPath)
		return nil, elemerr.Internal(err, "create worktree at %s", relPath)
	}

	head, _ := m.gitOutput(ctx, "-C", absPath, "rev-parse", "HEAD")
	rec.Head = strings.TrimSpace(head)
	rec.State = types.WorktreeActive
	if err := m.store.UpdateWorktreeState(absPath, types.WorktreeActive, rec.Head); err != nil {
		return nil, err
	}

	m.logf("created worktree", "path", relPath, "branch", branch, "agent", agentName, "task", string(taskID))
	return rec, nil
}

func (m *Manager) addWorktree(ctx context.Context, absPath, branch, base string) error {
	if m.runGit(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch) == nil {
		if err := m.runGit(ctx, "worktree", "add", absPath, branch); err != nil {
			return err
		}
	} else {
		if err := m.runGit(ctx, "worktree", "add", "-b", branch, absPath, base); err != nil {
			return err
		}
	}
	_ = m.runGit(ctx, "-C", absPath, "branch", "--set-upstream-to", "origin/"+base)
	return nil
}

// CreateReadOnlyWorktree creates a detached, branchless worktree for
// non-mutating triage sessions.
func (m *Manager) CreateReadOnlyWorktree(ctx context.Context, agentName string, taskID types.ElementId, title, base string, now time.Time) (*types.WorktreeRecord, error) {
	relPath := RelativePath(agentName, title)
	absPath := filepath.Join(m.repoPath, relPath)

	if _, err := os.Stat(absPath); err == nil {
		return nil, elemerr.Conflict("worktree path %s already exists", relPath)
	}

	rec := &types.WorktreeRecord{
		Path: absPath, RelativePath: relPath, State: types.WorktreeCreating,
		AgentName: agentName, TaskID: taskID, CreatedAt: now,
	}
	if err := m.store.CreateWorktree(rec); err != nil {
		return nil, err
	}
	if err := m.runGit(ctx, "worktree", "add", "--detach", absPath, base); err != nil {
		_ = m.runGit(ctx, "worktree", "remove", "--force", absPath)
		_ = m.store.DeleteWorktree(absPath)
		return nil, elemerr.Internal(err, "create read-only worktree at %s", relPath)
	}

	head, _ := m.gitOutput(ctx, "-C", absPath, "rev-parse", "HEAD")
	rec.Head = strings.TrimSpace(head)
	rec.State = types.WorktreeActive
	if err := m.store.UpdateWorktreeState(absPath, types.WorktreeActive, rec.Head); err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoveWorktree requires an existing entry, refuses the main worktree,
// removes the git worktree (optionally force), and optionally deletes
// its branch.
func (m *Manager) RemoveWorktree(ctx context.Context, path string, force, deleteBranch, forceDeleteBranch bool) error {
	rec, err := m.store.GetWorktree(path)
	if err != nil {
		return err
	}
	if rec.IsMain {
		return elemerr.Validation("cannot remove the main worktree")
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if err := m.runGit(ctx, args...); err != nil {
		return elemerr.Internal(err, "remove worktree %s", path)
	}

	if deleteBranch && rec.Branch != "" {
		flag := "-d"
		if forceDeleteBranch {
			flag = "-D"
		}
		if err := m.runGit(ctx, "branch", flag, rec.Branch); err != nil {
			m.logf("failed to delete branch", "branch", rec.Branch, "error", err.Error())
		}
	}

	if err := m.store.DeleteWorktree(path); err != nil {
		return err
	}
	m.logf("removed worktree", "path", rec.RelativePath)
	return nil
}

// GetWorktree loads a tracked worktree by its resolved absolute path.
func (m *Manager) GetWorktree(path string) (*types.WorktreeRecord, error) {
	resolved, err := resolveSymlinks(path)
	if err != nil {
		return nil, err
	}
	return m.store.GetWorktree(resolved)
}

// ListWorktrees returns every tracked worktree.
func (m *Manager) ListWorktrees() ([]*types.WorktreeRecord, error) {
	return m.store.ListWorktrees()
}

// DetectOrphans returns worktrees whose task id is not in activeTaskIDs.
func (m *Manager) DetectOrphans(activeTaskIDs map[types.ElementId]bool) ([]*types.WorktreeRecord, error) {
	all, err := m.store.ListWorktrees()
	if err != nil {
		return nil, err
	}
	var orphans []*types.WorktreeRecord
	for _, w := range all {
		if !w.IsMain && !activeTaskIDs[w.TaskID] {
			orphans = append(orphans, w)
		}
	}
	return orphans, nil
}

func (m *Manager) logf(msg string, keyvals ...any) {
	if m.log != nil {
		m.log.Info(msg, keyvals...)
	}
}

// resolveSymlinks resolves path so comparisons are stable across
// symlinked temp dirs (e.g. macOS /tmp <-> /private/tmp).
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(path), nil
		}
		return "", elemerr.Internal(err, "resolve symlinks for %s", path)
	}
	return resolved, nil
}

func (m *Manager) runGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *Manager) gitOutput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	out, err := cmd.Output()
	return string(out), err
}
