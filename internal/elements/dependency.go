package elements

import (
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/events"
	"github.com/elemental/daemon/pkg/types"
)

var blockingFamily = []types.DependencyType{types.DepBlocks, types.DepParentChild, types.DepAwaits}

// AddDependency inserts a dependency edge:
//  1. verify source and target exist and are not tombstoned,
//  2. if type is in the blocking family, DFS from target following
//     blocking edges; fail with CycleDetected if source is reached,
//  3. insert the edge and notify the Blocked Cache.
func (a *API) AddDependency(d *types.Dependency, now time.Time) error {
	if _, err := a.store.GetElement(d.SourceID, false); err != nil {
		return err
	}
	if _, err := a.store.GetElement(d.TargetID, false); err != nil {
		return err
	}

	if d.Type == types.DepAwaits {
		meta, ok := d.DecodeAwaitsMetadata()
		if !ok || !meta.Valid() {
			return elemerr.Validation("awaits dependency %s -> %s has invalid gate metadata", d.SourceID, d.TargetID)
		}
	}

	if d.Type.IsBlocking() {
		reached, err := a.reachable(d.TargetID, d.SourceID, map[types.ElementId]bool{})
		if err != nil {
			return err
		}
		if reached {
			return elemerr.CycleDetected("adding %s(%s -> %s) would create a blocking cycle", d.Type, d.SourceID, d.TargetID)
		}
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if err := a.store.AddDependency(d); err != nil {
		return err
	}
	if a.cache != nil {
		if err := a.cache.OnDependencyAdded(d, now); err != nil {
			a.logCacheFailure("invalidate after dependency added", d.SourceID, err, now)
		}
	}
	a.publish(events.Event{Type: events.DependencyAdded, ElementID: d.SourceID, Dependency: d, Timestamp: now})
	return nil
}

// reachable reports whether target is reachable from "from" by following
// outgoing blocking-family edges. AddDependency calls this with
// from=newEdge.target, target=newEdge.source: a path target~>...~>source
// plus the proposed source->target edge would close a cycle.
func (a *API) reachable(from, target types.ElementId, visited map[types.ElementId]bool) (bool, error) {
	if from == target {
		return true, nil
	}
	if visited[from] {
		return false, nil
	}
	visited[from] = true

	deps, err := a.store.GetDependencies(from, blockingFamily)
	if err != nil {
		return false, err
	}
	for _, d := range deps {
		ok, err := a.reachable(d.TargetID, target, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RemoveDependency deletes an edge and notifies the Blocked Cache.
func (a *API) RemoveDependency(sourceID, targetID types.ElementId, depType types.DependencyType, now time.Time) error {
	if err := a.store.RemoveDependency(sourceID, targetID, depType); err != nil {
		return err
	}
	dep := &types.Dependency{SourceID: sourceID, TargetID: targetID, Type: depType}
	if a.cache != nil && depType.IsBlocking() {
		if err := a.cache.OnDependencyRemoved(dep, now); err != nil {
			a.logCacheFailure("invalidate after dependency removed", sourceID, err, now)
		}
	}
	a.publish(events.Event{Type: events.DependencyRemoved, ElementID: sourceID, Dependency: dep, Timestamp: now})
	return nil
}

// GetDependencies returns id's outgoing edges, optionally restricted to
// depTypes.
func (a *API) GetDependencies(id types.ElementId, depTypes []types.DependencyType) ([]*types.Dependency, error) {
	return a.store.GetDependencies(id, depTypes)
}

// GetDependents returns id's incoming edges, optionally restricted to
// depTypes.
func (a *API) GetDependents(id types.ElementId, depTypes []types.DependencyType) ([]*types.Dependency, error) {
	return a.store.GetDependents(id, depTypes)
}

// RemoveDependenciesTouching deletes every edge where id is source or
// target, without touching the Blocked Cache. Used by Burn, which
// removes the element itself immediately after and has no cache entries
// left to maintain for it.
func (a *API) RemoveDependenciesTouching(id types.ElementId) error {
	return a.store.RemoveDependenciesTouching(id)
}
