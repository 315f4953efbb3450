// Package blocked implements the materialized Blocked Cache. It answers
// "is X blocked, and by what" in O(1) by keeping a persisted cache
// consistent under arbitrary
// dependency and status mutations, via targeted incremental
// invalidation plus a from-scratch rebuild recovery path.
package blocked

import (
	"fmt"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

// Cache wraps the Store with the blocking-state computation and
// invalidation algorithms. It holds no in-memory state of its own — the
// cache rows live in the Store, so Cache is safe to construct anywhere
// that holds a *store.Store.
type Cache struct {
	store *store.Store
	log   *logging.Logger
}

// New constructs a Cache over st. log may be nil (a no-op logger is used).
func New(st *store.Store, log *logging.Logger) *Cache {
	return &Cache{store: st, log: log}
}

func (c *Cache) logf(msg string, keyvals ...any) {
	if c.log != nil {
		c.log.Debug(msg, keyvals...)
	}
}

// computeBlockingState evaluates id's outgoing blocking edges in (type,
// createdAt, targetId) order and returns the first that blocks, or nil
// if none do.
func (c *Cache) computeBlockingState(id types.ElementId, now time.Time) (*types.BlockedEntry, error) {
	deps, err := c.store.GetDependencies(id, []types.DependencyType{
		types.DepBlocks, types.DepParentChild, types.DepAwaits,
	})
	if err != nil {
		return nil, err
	}

	for _, dep := range deps {
		blocked, reason, err := c.evaluateEdge(dep, now)
		if err != nil {
			return nil, err
		}
		if blocked {
			return &types.BlockedEntry{ElementID: id, BlockedBy: dep.TargetID, Reason: reason}, nil
		}
	}
	return nil, nil
}

func (c *Cache) evaluateEdge(dep *types.Dependency, now time.Time) (blocked bool, reason string, err error) {
	switch dep.Type {
	case types.DepBlocks:
		target, err := c.store.GetElement(dep.TargetID, true)
		if err != nil {
			if elemerr.Is(err, elemerr.KindNotFound) {
				return false, "", nil // target gone entirely, never dangle
			}
			return false, "", err
		}
		if !target.IsCompleted() {
			return true, fmt.Sprintf("Blocked by %s (blocks dependency)", dep.TargetID), nil
		}
		return false, "", nil

	case types.DepParentChild:
		target, err := c.store.GetElement(dep.TargetID, true)
		if err != nil {
			if elemerr.Is(err, elemerr.KindNotFound) {
				return false, "", nil
			}
			return false, "", err
		}
		parentBlocked, err := c.store.GetBlocked(dep.TargetID)
		if err != nil {
			return false, "", err
		}
		if parentBlocked != nil {
			return true, fmt.Sprintf("Blocked by %s (parent blocked transitively)", dep.TargetID), nil
		}
		if !target.IsCompleted() {
			return true, fmt.Sprintf("Blocked by %s (parent-child dependency)", dep.TargetID), nil
		}
		return false, "", nil

	case types.DepAwaits:
		meta, ok := dep.DecodeAwaitsMetadata()
		if !ok || !meta.Valid() {
			return true, fmt.Sprintf("Blocked by %s (awaits: invalid gate metadata)", dep.TargetID), nil
		}
		if gateSatisfied(meta, now) {
			return false, "", nil
		}
		return true, fmt.Sprintf("Blocked by %s (awaits:%s gate)", dep.TargetID, meta.Gate), nil

	default:
		return false, "", nil
	}
}

// gateSatisfied reports whether an awaits edge's gate has been met.
func gateSatisfied(m *types.AwaitsMetadata, now time.Time) bool {
	switch m.Gate {
	case types.GateTimer:
		return m.WaitUntil != nil && !now.Before(*m.WaitUntil)
	case types.GateApproval:
		required := m.ApprovalCount
		if required == 0 {
			required = len(m.RequiredApprovers)
		}
		return len(m.CurrentApprovers) >= required
	case types.GateExternal, types.GateWebhook:
		return m.Satisfied
	default:
		return false
	}
}

// Invalidate recomputes id's blocking state and upserts or deletes its
// cache row accordingly.
func (c *Cache) Invalidate(id types.ElementId, now time.Time) error {
	entry, err := c.computeBlockingState(id, now)
	if err != nil {
		return err
	}
	if entry == nil {
		return c.store.DeleteBlocked(id)
	}
	return c.store.UpsertBlocked(entry)
}

// InvalidateDependents handles an element status change: for every U
// with a blocking edge U -> id, invalidate U; if that edge is
// parent-child, U's whole subtree must also be re-evaluated since U's
// children see U's new state.
func (c *Cache) InvalidateDependents(id types.ElementId, now time.Time) error {
	dependents, err := c.store.GetDependents(id, []types.DependencyType{
		types.DepBlocks, types.DepParentChild, types.DepAwaits,
	})
	if err != nil {
		return err
	}

	visited := map[types.ElementId]bool{}
	for _, dep := range dependents {
		if err := c.Invalidate(dep.SourceID, now); err != nil {
			return err
		}
		if dep.Type == types.DepParentChild {
			if err := c.invalidateChildren(dep.SourceID, now, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// invalidateChildren recurses down the parent-child tree rooted at id,
// re-invalidating every descendant. The visited set makes this safe even
// if the underlying graph is (incorrectly) cyclic.
func (c *Cache) invalidateChildren(id types.ElementId, now time.Time, visited map[types.ElementId]bool) error {
	if visited[id] {
		return nil
	}
	visited[id] = true

	children, err := c.store.GetDependents(id, []types.DependencyType{types.DepParentChild})
	if err != nil {
		return err
	}
	for _, dep := range children {
		if err := c.Invalidate(dep.SourceID, now); err != nil {
			return err
		}
		if err := c.invalidateChildren(dep.SourceID, now, visited); err != nil {
			return err
		}
	}
	return nil
}

// OnDependencyAdded invalidates whatever a newly added blocking
// dependency now affects.
func (c *Cache) OnDependencyAdded(dep *types.Dependency, now time.Time) error {
	if !dep.Type.IsBlocking() {
		return nil
	}
	if err := c.Invalidate(dep.SourceID, now); err != nil {
		return err
	}
	if dep.Type == types.DepParentChild {
		return c.invalidateChildren(dep.SourceID, now, map[types.ElementId]bool{})
	}
	return nil
}

// OnDependencyRemoved re-evaluates whatever a removed blocking edge
// affected, the same recomputation an added edge triggers.
func (c *Cache) OnDependencyRemoved(dep *types.Dependency, now time.Time) error {
	return c.OnDependencyAdded(dep, now)
}

// OnElementDeleted implements the "element deleted" row: drop any cache
// row for id (it can no longer be blocked) and treat it as a status
// change to completed for anything that depended on it.
func (c *Cache) OnElementDeleted(id types.ElementId, now time.Time) error {
	if err := c.store.DeleteBlocked(id); err != nil {
		return err
	}
	return c.InvalidateDependents(id, now)
}

// TickTimerGates invalidates every element with
// an open `awaits` edge whose waitUntil has elapsed. Called at startup
// and periodically thereafter.
func (c *Cache) TickTimerGates(now time.Time) error {
	deps, err := c.store.AllBlockingDependencies()
	if err != nil {
		return err
	}
	seen := map[types.ElementId]bool{}
	for _, dep := range deps {
		if dep.Type != types.DepAwaits {
			continue
		}
		meta, ok := dep.DecodeAwaitsMetadata()
		if !ok || meta.Gate != types.GateTimer || meta.WaitUntil == nil {
			continue
		}
		if now.Before(*meta.WaitUntil) {
			continue
		}
		if seen[dep.SourceID] {
			continue
		}
		seen[dep.SourceID] = true
		if err := c.Invalidate(dep.SourceID, now); err != nil {
			return err
		}
	}
	return nil
}
