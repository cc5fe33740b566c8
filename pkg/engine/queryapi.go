package engine

import (
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// QueryAPI is the read-only sub-API, acquired through
// Engine.GetQueryAPI. Every method reads directly against committed storage
// state through pkg/tree.Reader; none of them touch the command pipeline.
type QueryAPI struct {
	reader *tree.Reader
}

func (q *QueryAPI) GetTree(id types.TreeId) (*types.Tree, error) { return q.reader.GetTree(id) }

func (q *QueryAPI) ListTrees() ([]*types.Tree, error) { return q.reader.ListTrees() }

func (q *QueryAPI) GetNode(id types.NodeId) (*types.TreeNode, error) { return q.reader.GetNode(id) }

func (q *QueryAPI) GetChildren(parentId types.NodeId, query types.ChildrenQuery) ([]*types.TreeNode, error) {
	return q.reader.GetChildren(parentId, query)
}

func (q *QueryAPI) GetDescendants(rootId types.NodeId, query types.DescendantsQuery) ([]*types.TreeNode, []string, error) {
	return q.reader.GetDescendants(rootId, query)
}

func (q *QueryAPI) GetAncestors(nodeId types.NodeId) ([]*types.TreeNode, []string, error) {
	return q.reader.GetAncestors(nodeId)
}

func (q *QueryAPI) SearchNodes(query types.SearchQuery) ([]*types.TreeNode, error) {
	return q.reader.SearchNodes(query)
}
