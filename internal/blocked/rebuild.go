package blocked

import (
	"time"

	"github.com/elemental/daemon/pkg/types"
)

// Rebuild is the full-recovery path: discard the
// cache entirely and recompute it from scratch in dependency order, so
// that `parent-child` lookups (which read sibling cache rows) see their
// parent's row already settled before the child is evaluated.
//
// Steps:
//  1. Clear the cache.
//  2. Collect the candidate set C: every element with at least one
//     outgoing blocking-family edge.
//  3. Build a reverse parent-child map restricted to C.
//  4. Seed a work queue with every candidate that has no parent in C.
//  5. Process the queue in parent-before-child order, enqueueing each
//     processed element's children as they become unblocked.
//  6. Defensive sweep: anything left unprocessed (a malformed, cyclic
//     parent-child graph) is computed directly, in arbitrary order.
func (c *Cache) Rebuild(now time.Time) error {
	if err := c.store.ClearBlocked(); err != nil {
		return err
	}

	allBlocking, err := c.store.AllBlockingDependencies()
	if err != nil {
		return err
	}

	candidates := map[types.ElementId]bool{}
	for _, dep := range allBlocking {
		candidates[dep.SourceID] = true
	}

	// parents[child] = parents of child that are themselves candidates.
	// children[parent] = reverse of the above.
	parents := map[types.ElementId][]types.ElementId{}
	children := map[types.ElementId][]types.ElementId{}
	for _, dep := range allBlocking {
		if dep.Type != types.DepParentChild {
			continue
		}
		if !candidates[dep.TargetID] {
			continue
		}
		parents[dep.SourceID] = append(parents[dep.SourceID], dep.TargetID)
		children[dep.TargetID] = append(children[dep.TargetID], dep.SourceID)
	}

	processed := map[types.ElementId]bool{}
	var queue []types.ElementId
	for id := range candidates {
		if len(parents[id]) == 0 {
			queue = append(queue, id)
		}
	}

	maxRequeues := 2*len(candidates) + 16
	requeues := 0
	for len(queue) > 0 && requeues <= maxRequeues {
		id := queue[0]
		queue = queue[1:]

		if processed[id] {
			continue
		}

		ready := true
		for _, p := range parents[id] {
			if !processed[p] {
				ready = false
				break
			}
		}
		if !ready {
			queue = append(queue, id)
			requeues++
			continue
		}

		if err := c.Invalidate(id, now); err != nil {
			return err
		}
		processed[id] = true
		queue = append(queue, children[id]...)
	}

	// Defensive sweep: malformed (cyclic) parent-child graphs can leave
	// stragglers. Process whatever remains directly so Rebuild always
	// terminates with a fully-populated cache.
	for id := range candidates {
		if processed[id] {
			continue
		}
		if err := c.Invalidate(id, now); err != nil {
			return err
		}
		processed[id] = true
	}

	return nil
}
