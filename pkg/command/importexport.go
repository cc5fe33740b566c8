package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateExportNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.ExportNodesPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "exportNodes requires ExportNodesPayload")
	}
	n, err := tree.GetNode(tx, payload.RootNodeId)
	if err != nil {
		return err
	}
	if n == nil {
		return enginerr.Newf(enginerr.UnknownNode, "node %s not found", payload.RootNodeId)
	}
	return nil
}

// applyExportNodes walks RootNodeId's subtree into the yaml-serializable
// ExportedSubtree shape; the engine facade is responsible for the actual
// yaml.Marshal, keeping this package free of a presentation-format
// dependency.
func applyExportNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.ExportNodesPayload)

	root, err := tree.GetNode(tx, payload.RootNodeId)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}
	export := &types.ExportedSubtree{}
	if err := collectSubtree(p, tx, root, export); err != nil {
		return nil, nil, nil, "", nil, err
	}
	return []types.NodeId{root.Id}, nil, nil, root.TreeId, export, nil
}

func validateImportNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.ImportNodesPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "importNodes requires ImportNodesPayload")
	}
	if len(payload.Subtree.Nodes) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "importNodes requires a non-empty subtree")
	}
	parent, err := tree.GetNode(tx, payload.ParentNodeId)
	if err != nil {
		return err
	}
	if parent == nil {
		return enginerr.Newf(enginerr.UnknownNode, "parent %s not found", payload.ParentNodeId)
	}
	for _, n := range payload.Subtree.Nodes {
		if _, err := p.registry.GetHandler(n.NodeType); err != nil {
			return err
		}
	}
	return nil
}

// applyImportNodes is pasteNodes' twin, differing only in the tree the
// result lands under: pasteNodes targets a node already known to a tree,
// importNodes names the tree and parent explicitly so a subtree can be
// imported into a tree the session never copied from.
func applyImportNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.ImportNodesPayload)

	idRemap := make(map[types.NodeId]types.NodeId, len(payload.Subtree.Nodes))
	entityByNode := make(map[types.NodeId][]byte, len(payload.Subtree.Entities))
	for _, e := range payload.Subtree.Entities {
		entityByNode[e.NodeId] = e.Payload
	}

	var (
		createdIds []types.NodeId
		events     []types.ChangeEvent
		now        = nowMillis()
	)

	for _, n := range payload.Subtree.Nodes {
		newParentId := payload.ParentNodeId
		if remapped, ok := idRemap[n.ParentId]; ok {
			newParentId = remapped
		}

		name, err := resolveNameConflict(tx, newParentId, n.Name, n.NodeType, types.ConflictAutoRename)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}

		newNode := &types.TreeNode{
			Id: types.NewNodeId(), TreeId: payload.TreeId, ParentId: newParentId,
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
	return createdIds, events, inverse, payload.TreeId, nil, nil
}
