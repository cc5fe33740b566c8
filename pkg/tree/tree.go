package tree

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// GetNode returns the node, or (nil, nil) if it does not exist — a missing
// node is not an error condition here.
func GetNode(tx *storage.CoreTx, id types.NodeId) (*types.TreeNode, error) {
	node, err := tx.GetNode(id)
	if err != nil {
		if enginerr.KindOf(err) == enginerr.UnknownNode {
			return nil, nil
		}
		return nil, err
	}
	return node, nil
}

// GetChildren returns parentId's children ordered per query. A missing
// parent yields an empty list, not an error.
func GetChildren(tx *storage.CoreTx, parentId types.NodeId, query types.ChildrenQuery) ([]*types.TreeNode, error) {
	query = query.Normalize()

	ids, err := tx.ChildNodeIds(parentId)
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.TreeNode, 0, len(ids))
	for _, id := range ids {
		n, err := tx.GetNode(id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	sortNodes(nodes, query.SortBy, query.SortOrder)

	if query.Offset > 0 {
		if query.Offset >= len(nodes) {
			return []*types.TreeNode{}, nil
		}
		nodes = nodes[query.Offset:]
	}
	if query.Limit > 0 && query.Limit < len(nodes) {
		nodes = nodes[:query.Limit]
	}
	return nodes, nil
}

func sortNodes(nodes []*types.TreeNode, by types.SortKey, order types.SortOrder) {
	less := func(i, j int) bool {
		var lt bool
		switch by {
		case types.SortByName:
			lt = nodes[i].Name < nodes[j].Name
		case types.SortByUpdatedAt:
			lt = nodes[i].UpdatedAt < nodes[j].UpdatedAt
		default: // SortByCreatedAt
			lt = nodes[i].CreatedAt < nodes[j].CreatedAt
		}
		if order == types.SortDesc {
			return !lt && nodes[i].Id != nodes[j].Id
		}
		return lt
	}
	sort.SliceStable(nodes, less)
}

// GetDescendants walks the subtree rooted at rootId breadth-first,
// excluding rootId itself, bounded by query.MaxDepth (0 = unbounded) and by
// types.TraversalSafetyBound against a corrupt cycle. If the safety bound is
// hit, the returned warning says so and the partial result is still valid.
func GetDescendants(tx *storage.CoreTx, rootId types.NodeId, query types.DescendantsQuery) ([]*types.TreeNode, []string, error) {
	var (
		out      []*types.TreeNode
		warnings []string
		visited  = map[types.NodeId]bool{rootId: true}
		frontier = []types.NodeId{rootId}
		depth    = 0
		visitCnt = 0
	)

	includeSet := map[string]bool(nil)
	if len(query.IncludeTypes) > 0 {
		includeSet = make(map[string]bool, len(query.IncludeTypes))
		for _, t := range query.IncludeTypes {
			includeSet[t] = true
		}
	}

	for len(frontier) > 0 {
		if query.MaxDepth > 0 && depth >= query.MaxDepth {
			break
		}
		var next []types.NodeId
		for _, parentId := range frontier {
			childIds, err := tx.ChildNodeIds(parentId)
			if err != nil {
				return nil, nil, err
			}
			for _, id := range childIds {
				if visited[id] {
					continue // cycle guard: never re-descend a node we've already emitted
				}
				visited[id] = true
				visitCnt++
				if visitCnt > types.TraversalSafetyBound {
					warnings = append(warnings, "descendant traversal exceeded safety bound; result truncated")
					return out, warnings, nil
				}
				n, err := tx.GetNode(id)
				if err != nil {
					return nil, nil, err
				}
				if includeSet == nil || includeSet[n.NodeType] {
					out = append(out, n)
				}
				next = append(next, id)
			}
		}
		frontier = next
		depth++
	}
	return out, warnings, nil
}

// GetAncestors returns the chain from nodeId to the tree root, inclusive,
// nearest-first. A cycle truncates the chain and returns a warning rather
// than looping forever.
func GetAncestors(tx *storage.CoreTx, nodeId types.NodeId) ([]*types.TreeNode, []string, error) {
	var (
		chain    []*types.TreeNode
		visited  = map[types.NodeId]bool{}
		warnings []string
		current  = nodeId
	)
	for i := 0; i < types.TraversalSafetyBound; i++ {
		n, err := tx.GetNode(current)
		if err != nil {
			if enginerr.KindOf(err) == enginerr.UnknownNode {
				break
			}
			return nil, nil, err
		}
		if visited[n.Id] {
			warnings = append(warnings, "ancestor chain cycle detected; chain truncated")
			break
		}
		visited[n.Id] = true
		chain = append(chain, n)
		if n.ParentId == "" || n.ParentId == n.Id {
			break
		}
		current = n.ParentId
	}
	return chain, warnings, nil
}

// SearchNodes matches query.RootNodeId's subtree (root included) against query.
func SearchNodes(tx *storage.CoreTx, query types.SearchQuery) ([]*types.TreeNode, error) {
	root, err := GetNode(tx, query.RootNodeId)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	descendants, _, err := GetDescendants(tx, query.RootNodeId, types.DescendantsQuery{})
	if err != nil {
		return nil, err
	}
	candidates := append([]*types.TreeNode{root}, descendants...)

	match, err := matcher(query)
	if err != nil {
		return nil, err
	}

	var out []*types.TreeNode
	for _, n := range candidates {
		if match(n.Name) {
			out = append(out, n)
		}
	}
	return out, nil
}

func matcher(query types.SearchQuery) (func(name string) bool, error) {
	needle := query.Query
	fold := func(s string) string {
		if query.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}
	needle = fold(needle)

	switch query.Mode {
	case types.SearchExact:
		return func(name string) bool { return fold(name) == needle }, nil
	case types.SearchRegex:
		flags := ""
		if !query.CaseSensitive {
			flags = "(?i)"
		}
		re, err := regexp.Compile(flags + query.Query)
		if err != nil {
			return nil, enginerr.Wrap(enginerr.InvalidQuery, err, "invalid search regex")
		}
		return func(name string) bool { return re.MatchString(name) }, nil
	default: // SearchPartial
		return func(name string) bool { return strings.Contains(fold(name), needle) }, nil
	}
}

// CheckAcyclicMove reports a CycleDetected error if moving nodeId under
// newParentId would make nodeId its own ancestor.
func CheckAcyclicMove(tx *storage.CoreTx, nodeId, newParentId types.NodeId) error {
	if nodeId == newParentId {
		return enginerr.Newf(enginerr.CycleDetected, "node %s cannot become its own parent", nodeId)
	}
	current := newParentId
	for i := 0; i < types.TraversalSafetyBound; i++ {
		n, err := tx.GetNode(current)
		if err != nil {
			if enginerr.KindOf(err) == enginerr.UnknownNode {
				return nil
			}
			return err
		}
		if n.Id == nodeId {
			return enginerr.Newf(enginerr.CycleDetected, "moving %s under %s would create a cycle", nodeId, newParentId)
		}
		if n.ParentId == "" || n.ParentId == n.Id {
			return nil
		}
		current = n.ParentId
	}
	return enginerr.Newf(enginerr.CycleDetected, "ancestor chain exceeded safety bound while checking for a cycle")
}

// InTrashSubtree reports whether nodeId's ancestor chain reaches the tree's
// trash root before its live root.
func InTrashSubtree(tx *storage.CoreTx, t *types.Tree, nodeId types.NodeId) (bool, error) {
	current := nodeId
	for i := 0; i < types.TraversalSafetyBound; i++ {
		if current == t.TrashRootNodeId {
			return true, nil
		}
		if current == t.RootNodeId {
			return false, nil
		}
		n, err := tx.GetNode(current)
		if err != nil {
			if enginerr.KindOf(err) == enginerr.UnknownNode {
				return false, nil
			}
			return false, err
		}
		if n.ParentId == "" || n.ParentId == n.Id {
			return false, nil
		}
		current = n.ParentId
	}
	return false, enginerr.Newf(enginerr.CycleDetected, "ancestor chain exceeded safety bound while checking trash boundary")
}

// FindSiblingConflict looks up a live sibling of parentId already named
// name, returning its id if one exists.
func FindSiblingConflict(tx *storage.CoreTx, parentId types.NodeId, name string) (types.NodeId, bool, error) {
	return tx.FindChildByName(parentId, name)
}
