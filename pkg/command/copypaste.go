package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateCopyNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.CopyNodesPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "copyNodes requires CopyNodesPayload")
	}
	if len(payload.NodeIds) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "copyNodes requires at least one nodeId")
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

// applyCopyNodes performs no storage mutation — it serializes each requested
// node's subtree to an ExportedSubtree for clipboard transport. It is still
// routed through the pipeline so the same validate/panic-recovery/metrics
// scaffolding applies.
func applyCopyNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.CopyNodesPayload)

	export := &types.ExportedSubtree{}
	for _, rootId := range payload.NodeIds {
		root, err := tree.GetNode(tx, rootId)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		if root == nil {
			return nil, nil, nil, "", nil, enginerr.Newf(enginerr.UnknownNode, "node %s not found", rootId)
		}
		if err := collectSubtree(p, tx, root, export); err != nil {
			return nil, nil, nil, "", nil, err
		}
	}
	return payload.NodeIds, nil, nil, "", export, nil
}

func collectSubtree(p *Pipeline, tx *storage.CoreTx, node *types.TreeNode, out *types.ExportedSubtree) error {
	handler, err := p.registry.GetHandler(node.NodeType)
	if err != nil {
		return err
	}
	entity, err := handler.GetEntity(tx, node.Id)
	if err != nil {
		return err
	}
	out.Nodes = append(out.Nodes, types.ExportedNode{
		Id: node.Id, ParentId: node.ParentId, Name: node.Name, NodeType: node.NodeType,
	})
	out.Entities = append(out.Entities, types.ExportedEntity{NodeId: node.Id, Payload: entity.Payload})

	childIds, err := tx.ChildNodeIds(node.Id)
	if err != nil {
		return err
	}
	for _, childId := range childIds {
		child, err := tree.GetNode(tx, childId)
		if err != nil {
			return err
		}
		if err := collectSubtree(p, tx, child, out); err != nil {
			return err
		}
	}
	return nil
}

func validatePasteNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.PasteNodesPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "pasteNodes requires PasteNodesPayload")
	}
	if len(payload.Subtree.Nodes) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "pasteNodes requires a non-empty subtree")
	}
	target, err := tree.GetNode(tx, payload.TargetParentId)
	if err != nil {
		return err
	}
	if target == nil {
		return enginerr.Newf(enginerr.UnknownNode, "target parent %s not found", payload.TargetParentId)
	}
	for _, n := range payload.Subtree.Nodes {
		if _, err := p.registry.GetHandler(n.NodeType); err != nil {
			return err
		}
	}
	return nil
}

// applyPasteNodes deserializes a previously copied subtree under a new
// parent, minting fresh ids and remapping parent references by the
// ExportedNode.Id the copy carried, the inverse of copyNodes.
func applyPasteNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.PasteNodesPayload)

	target, err := tree.GetNode(tx, payload.TargetParentId)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}

	entityByNode := make(map[types.NodeId][]byte, len(payload.Subtree.Entities))
	for _, e := range payload.Subtree.Entities {
		entityByNode[e.NodeId] = e.Payload
	}

	idRemap := make(map[types.NodeId]types.NodeId, len(payload.Subtree.Nodes))
	var (
		createdIds []types.NodeId
		events     []types.ChangeEvent
		now        = nowMillis()
	)

	// payload.Subtree.Nodes is produced root-first, parents-before-children
	// by collectSubtree, so a single forward pass can always resolve each
	// node's new parent before visiting its children.
	for _, n := range payload.Subtree.Nodes {
		newParentId := payload.TargetParentId
		if remapped, ok := idRemap[n.ParentId]; ok {
			newParentId = remapped
		}

		name, err := resolveNameConflict(tx, newParentId, n.Name, n.NodeType, types.ConflictAutoRename)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}

		newNode := &types.TreeNode{
			Id: types.NewNodeId(), TreeId: target.TreeId, ParentId: newParentId,
			Name: name, NodeType: n.NodeType, CreatedAt: now, UpdatedAt: now, Version: 1,
		}
		if err := tx.PutNode(newNode); err != nil {
			return nil, nil, nil, "", nil, err
		}
		idRemap[n.Id] = newNode.Id

		handler, err := p.registry.GetHandler(n.NodeType)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		if _, err := handler.CreateEntity(tx, newNode, entityByNode[n.Id]); err != nil {
			return nil, nil, nil, "", nil, err
		}

		createdIds = append(createdIds, newNode.Id)
		events = append(events, types.ChangeEvent{
			Type: types.EventCreated, NodeId: newNode.Id, TreeId: newNode.TreeId, NewParentId: newNode.ParentId,
			At: now, Version: newNode.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
		})
	}

	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdRemovePermanent,
		Payload: types.RemovePermanentPayload{NodeIds: createdIds}, IssuedAt: now,
	}
	return createdIds, events, inverse, target.TreeId, nil, nil
}
