package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateDuplicateNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.DuplicateNodesPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "duplicateNodes requires DuplicateNodesPayload")
	}
	if len(payload.NodeIds) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "duplicateNodes requires at least one nodeId")
	}
	target, err := tree.GetNode(tx, payload.TargetParentId)
	if err != nil {
		return err
	}
	if target == nil {
		return enginerr.Newf(enginerr.UnknownNode, "target parent %s not found", payload.TargetParentId)
	}
	for _, id := range payload.NodeIds {
		n, err := tree.GetNode(tx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return enginerr.Newf(enginerr.UnknownNode, "node %s not found", id)
		}
	}
	return nil
}

// applyDuplicateNodes deep-copies each node's subtree under TargetParentId,
// minting fresh ids and re-running each nodeType's CreateEntity so plugin
// invariants (e.g. schema migration) apply to the copy, rather than
// byte-copying entity records.
func applyDuplicateNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.DuplicateNodesPayload)

	var (
		createdIds []types.NodeId
		events     []types.ChangeEvent
		treeId     types.TreeId
		now        = nowMillis()
	)

	for _, rootId := range payload.NodeIds {
		root, err := tree.GetNode(tx, rootId)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		if root == nil {
			return nil, nil, nil, "", nil, enginerr.Newf(enginerr.UnknownNode, "node %s not found", rootId)
		}
		treeId = root.TreeId

		if _, err := duplicateSubtree(p, tx, root, payload.TargetParentId, cmd, now, &createdIds, &events); err != nil {
			return nil, nil, nil, "", nil, err
		}
	}

	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdRemovePermanent,
		Payload: types.RemovePermanentPayload{NodeIds: createdIds}, IssuedAt: now,
	}
	return createdIds, events, inverse, treeId, nil, nil
}

func duplicateSubtree(p *Pipeline, tx *storage.CoreTx, node *types.TreeNode, newParentId types.NodeId, cmd *types.Command, now types.Timestamp, createdIds *[]types.NodeId, events *[]types.ChangeEvent) (types.NodeId, error) {
	handler, err := p.registry.GetHandler(node.NodeType)
	if err != nil {
		return "", err
	}
	entity, err := handler.GetEntity(tx, node.Id)
	if err != nil {
		return "", err
	}

	name, err := resolveNameConflict(tx, newParentId, node.Name, node.NodeType, types.ConflictAutoRename)
	if err != nil {
		return "", err
	}

	copyNode := &types.TreeNode{
		Id: types.NewNodeId(), TreeId: node.TreeId, ParentId: newParentId,
		Name: name, NodeType: node.NodeType, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := tx.PutNode(copyNode); err != nil {
		return "", err
	}
	if _, err := handler.CreateEntity(tx, copyNode, entity.Payload); err != nil {
		return "", err
	}

	*createdIds = append(*createdIds, copyNode.Id)
	*events = append(*events, types.ChangeEvent{
		Type: types.EventCreated, NodeId: copyNode.Id, TreeId: copyNode.TreeId, NewParentId: copyNode.ParentId,
		At: now, Version: copyNode.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
	})

	childIds, err := tx.ChildNodeIds(node.Id)
	if err != nil {
		return "", err
	}
	for _, childId := range childIds {
		child, err := tree.GetNode(tx, childId)
		if err != nil {
			return "", err
		}
		if _, err := duplicateSubtree(p, tx, child, copyNode.Id, cmd, now, createdIds, events); err != nil {
			return "", err
		}
	}
	return copyNode.Id, nil
}
