package elements

import "github.com/elemental/daemon/pkg/types"

// GetDependencyTree walks root's dependency and dependent edges up to
// maxDepth hops in each direction and returns the resulting node tree.
// Revisited nodes (cycles formed by associative edges) are annotated as
// circular-reference leaves instead of being re-expanded.
func (a *API) GetDependencyTree(root types.ElementId, maxDepth int) (*types.DependencyTreeNode, error) {
	node, err := a.treeNode(root)
	if err != nil {
		return nil, err
	}

	downVisited := map[types.ElementId]bool{root: true}
	deps, err := a.buildDown(root, maxDepth, downVisited)
	if err != nil {
		return nil, err
	}
	node.Dependencies = deps.nodes
	node.DepthDown = deps.maxDepth

	upVisited := map[types.ElementId]bool{root: true}
	dependents, err := a.buildUp(root, maxDepth, upVisited)
	if err != nil {
		return nil, err
	}
	node.Dependents = dependents.nodes
	node.DepthUp = dependents.maxDepth

	node.NodeCount = 1 + countNodes(node.Dependencies) + countNodes(node.Dependents)
	return node, nil
}

type subtree struct {
	nodes    []*types.DependencyTreeNode
	maxDepth int
}

func (a *API) treeNode(id types.ElementId) (*types.DependencyTreeNode, error) {
	e, err := a.store.GetElement(id, true)
	if err != nil {
		return nil, err
	}
	return &types.DependencyTreeNode{Element: e, NodeCount: 1}, nil
}

// buildDown expands id's outgoing edges (its dependencies) up to depth
// hops.
func (a *API) buildDown(id types.ElementId, depth int, visited map[types.ElementId]bool) (*subtree, error) {
	if depth <= 0 {
		return &subtree{}, nil
	}
	deps, err := a.store.GetDependencies(id, nil)
	if err != nil {
		return nil, err
	}

	out := &subtree{}
	for _, d := range deps {
		if visited[d.TargetID] {
			out.nodes = append(out.nodes, circularLeaf(d.TargetID))
			continue
		}
		visited[d.TargetID] = true

		child, err := a.treeNode(d.TargetID)
		if err != nil {
			return nil, err
		}
		nested, err := a.buildDown(d.TargetID, depth-1, visited)
		if err != nil {
			return nil, err
		}
		child.Dependencies = nested.nodes
		out.nodes = append(out.nodes, child)
		if nested.maxDepth+1 > out.maxDepth {
			out.maxDepth = nested.maxDepth + 1
		} else if out.maxDepth == 0 {
			out.maxDepth = 1
		}
	}
	return out, nil
}

// buildUp expands id's incoming edges (its dependents) up to depth hops.
func (a *API) buildUp(id types.ElementId, depth int, visited map[types.ElementId]bool) (*subtree, error) {
	if depth <= 0 {
		return &subtree{}, nil
	}
	deps, err := a.store.GetDependents(id, nil)
	if err != nil {
		return nil, err
	}

	out := &subtree{}
	for _, d := range deps {
		if visited[d.SourceID] {
			out.nodes = append(out.nodes, circularLeaf(d.SourceID))
			continue
		}
		visited[d.SourceID] = true

		parent, err := a.treeNode(d.SourceID)
		if err != nil {
			return nil, err
		}
		nested, err := a.buildUp(d.SourceID, depth-1, visited)
		if err != nil {
			return nil, err
		}
		parent.Dependents = nested.nodes
		out.nodes = append(out.nodes, parent)
		if nested.maxDepth+1 > out.maxDepth {
			out.maxDepth = nested.maxDepth + 1
		} else if out.maxDepth == 0 {
			out.maxDepth = 1
		}
	}
	return out, nil
}

func circularLeaf(id types.ElementId) *types.DependencyTreeNode {
	return &types.DependencyTreeNode{Element: &types.Element{ID: id}, Circular: true, NodeCount: 1}
}

func countNodes(nodes []*types.DependencyTreeNode) int {
	total := 0
	for _, n := range nodes {
		total += n.NodeCount
		total += countNodes(n.Dependencies)
		total += countNodes(n.Dependents)
	}
	return total
}
