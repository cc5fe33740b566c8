package tree

import (
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// Reader is the read-only facade pkg/engine's query API calls directly,
// outside of any command pipeline transaction. Every method opens its own
// bbolt View transaction so concurrent reads never block each other or the
// single writer mid-command.
type Reader struct {
	core *storage.CoreDB
}

func NewReader(core *storage.CoreDB) *Reader {
	return &Reader{core: core}
}

func (r *Reader) GetTree(id types.TreeId) (*types.Tree, error) {
	var t *types.Tree
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		t, err = tx.GetTree(id)
		return err
	})
	return t, err
}

func (r *Reader) ListTrees() ([]*types.Tree, error) {
	var out []*types.Tree
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		out, err = tx.ListTrees()
		return err
	})
	return out, err
}

func (r *Reader) GetNode(id types.NodeId) (*types.TreeNode, error) {
	var n *types.TreeNode
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = GetNode(tx, id)
		return err
	})
	return n, err
}

func (r *Reader) GetChildren(parentId types.NodeId, query types.ChildrenQuery) ([]*types.TreeNode, error) {
	var out []*types.TreeNode
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		out, err = GetChildren(tx, parentId, query)
		return err
	})
	return out, err
}

func (r *Reader) GetDescendants(rootId types.NodeId, query types.DescendantsQuery) ([]*types.TreeNode, []string, error) {
	var (
		out      []*types.TreeNode
		warnings []string
	)
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		out, warnings, err = GetDescendants(tx, rootId, query)
		return err
	})
	return out, warnings, err
}

func (r *Reader) GetAncestors(nodeId types.NodeId) ([]*types.TreeNode, []string, error) {
	var (
		out      []*types.TreeNode
		warnings []string
	)
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		out, warnings, err = GetAncestors(tx, nodeId)
		return err
	})
	return out, warnings, err
}

func (r *Reader) SearchNodes(query types.SearchQuery) ([]*types.TreeNode, error) {
	var out []*types.TreeNode
	err := r.core.View(func(tx *storage.CoreTx) error {
		var err error
		out, err = SearchNodes(tx, query)
		return err
	})
	return out, err
}
