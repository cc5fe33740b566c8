package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// CreateTree bootstraps a new tree: its record plus the two sentinel roots
// (live, trash) neither of which is bound to any plugin. Unlike every other
// mutation this is not a types.CommandKind — trees are created once and
// never renamed structurally by user commands, so it writes directly
// through a single CoreDB transaction rather than going
// through kindDispatch, and it is not journaled or published as a
// ChangeEvent. pkg/engine's Engine.CreateTree is the caller; Initialize
// itself creates no tree.
func (p *Pipeline) CreateTree(name string) (*types.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := &types.Tree{
		TreeId:          types.NewTreeId(),
		Name:            name,
		RootNodeId:      types.NewNodeId(),
		TrashRootNodeId: types.NewNodeId(),
	}
	now := nowMillis()
	err := p.core.Update(func(tx *storage.CoreTx) error {
		if err := tx.PutTree(t); err != nil {
			return err
		}
		if err := tx.PutNode(&types.TreeNode{
			Id: t.RootNodeId, TreeId: t.TreeId, NodeType: types.RootNodeType,
			Name: name, CreatedAt: now, UpdatedAt: now, Version: 1,
		}); err != nil {
			return err
		}
		return tx.PutNode(&types.TreeNode{
			Id: t.TrashRootNodeId, TreeId: t.TreeId, NodeType: types.TrashNodeType,
			Name: "trash", CreatedAt: now, UpdatedAt: now, Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info().Str("treeId", string(t.TreeId)).Str("name", name).Msg("tree created")
	return t, nil
}
