package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateMoveToTrash(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.MoveToTrashPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "moveToTrash requires MoveToTrashPayload")
	}
	if len(payload.NodeIds) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "moveToTrash requires at least one nodeId")
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

// applyMoveToTrash relocates each node under the tree's trash root.
// Trashing is a reversible bookkeeping move, not a content change, so it
// leaves Version untouched; applyRecoverFromTrash is the transition that
// bumps it when the node re-enters the live tree.
func applyMoveToTrash(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.MoveToTrashPayload)

	var (
		events       []types.ChangeEvent
		priorParents = make(map[types.NodeId]types.NodeId, len(payload.NodeIds))
		treeId       types.TreeId
		now          = nowMillis()
	)
	for _, id := range payload.NodeIds {
		node, err := tree.GetNode(tx, id)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		t, err := tx.GetTree(node.TreeId)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		treeId = node.TreeId
		priorParents[id] = node.ParentId

		trashName, err := resolveNameConflict(tx, t.TrashRootNodeId, node.Name, node.NodeType, types.ConflictAutoRename)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}

		updated := node.Clone()
		updated.ParentId = t.TrashRootNodeId
		updated.Name = trashName
		updated.Removed = true
		updated.UpdatedAt = now
		if err := tx.PutNode(updated); err != nil {
			return nil, nil, nil, "", nil, err
		}

		events = append(events, types.ChangeEvent{
			Type: types.EventTrashed, NodeId: updated.Id, TreeId: updated.TreeId,
			PrevParentId: node.ParentId, NewParentId: t.TrashRootNodeId,
			At: now, Version: updated.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
		})
	}

	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdRecoverFromTrash,
		Payload: types.RecoverFromTrashPayload{NodeIds: payload.NodeIds}, IssuedAt: now,
	}
	return payload.NodeIds, events, inverse, treeId, nil, nil
}

func validateRecoverFromTrash(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.RecoverFromTrashPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "recoverFromTrash requires RecoverFromTrashPayload")
	}
	if len(payload.NodeIds) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "recoverFromTrash requires at least one nodeId")
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

// applyRecoverFromTrash moves each node back into the live tree and bumps
// Version, marking the round trip through trash as the change it is from
// the perspective of anything observing the node's live history.
func applyRecoverFromTrash(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.RecoverFromTrashPayload)

	var (
		events []types.ChangeEvent
		treeId types.TreeId
		now    = nowMillis()
	)
	for _, id := range payload.NodeIds {
		node, err := tree.GetNode(tx, id)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		t, err := tx.GetTree(node.TreeId)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		treeId = node.TreeId

		destParent := payload.ToParentId
		if destParent == "" {
			destParent = t.RootNodeId
		}

		resolvedName, err := resolveNameConflict(tx, destParent, node.Name, node.NodeType, types.ConflictAutoRename)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}

		updated := node.Clone()
		prevParent := updated.ParentId
		updated.ParentId = destParent
		updated.Name = resolvedName
		updated.Removed = false
		updated.UpdatedAt = now
		updated.Version++
		if err := tx.PutNode(updated); err != nil {
			return nil, nil, nil, "", nil, err
		}

		events = append(events, types.ChangeEvent{
			Type: types.EventRecovered, NodeId: updated.Id, TreeId: updated.TreeId,
			PrevParentId: prevParent, NewParentId: destParent,
			At: now, Version: updated.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
		})
	}

	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdMoveToTrash,
		Payload: types.MoveToTrashPayload{NodeIds: payload.NodeIds}, IssuedAt: now,
	}
	return payload.NodeIds, events, inverse, treeId, nil, nil
}
