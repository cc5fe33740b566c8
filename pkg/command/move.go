package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateMoveNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.MoveNodesPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "moveNodes requires MoveNodesPayload")
	}
	if len(payload.NodeIds) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "moveNodes requires at least one nodeId")
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
		if n.TreeId != target.TreeId {
			return enginerr.New(enginerr.InvalidPayload, "moveNodes cannot cross trees")
		}
		if err := tree.CheckAcyclicMove(tx, id, payload.TargetParentId); err != nil {
			return err
		}
	}
	return checkNotCrossingTrashBoundary(tx, payload.NodeIds, payload.TargetParentId)
}

// checkNotCrossingTrashBoundary rejects direct parent reassignment across
// the live/trash boundary — only
// moveToTrash/recoverFromTrash may cross it.
func checkNotCrossingTrashBoundary(tx *storage.CoreTx, nodeIds []types.NodeId, targetParentId types.NodeId) error {
	for _, id := range nodeIds {
		node, err := tree.GetNode(tx, id)
		if err != nil {
			return err
		}
		targetTree, err := tx.GetTree(node.TreeId)
		if err != nil {
			return err
		}
		sourceInTrash, err := tree.InTrashSubtree(tx, targetTree, id)
		if err != nil {
			return err
		}
		destInTrash, err := tree.InTrashSubtree(tx, targetTree, targetParentId)
		if err != nil {
			return err
		}
		if sourceInTrash != destInTrash {
			return enginerr.New(enginerr.AcrossTrashBoundary, "moveNodes cannot cross the trash boundary; use moveToTrash/recoverFromTrash")
		}
	}
	return nil
}

func applyMoveNodes(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	// An undo entry carries moveNodesInverse rather than a MoveNodesPayload;
	// each node then goes back to its own recorded prior parent.
	payload, _ := cmd.Payload.(types.MoveNodesPayload)
	back, isInverse := cmd.Payload.(moveNodesInverse)
	for id := range back.priorParents {
		payload.NodeIds = append(payload.NodeIds, id)
	}

	var (
		events        []types.ChangeEvent
		priorParents  = make(map[types.NodeId]types.NodeId, len(payload.NodeIds))
		treeId        types.TreeId
		now           = nowMillis()
	)
	for _, id := range payload.NodeIds {
		node, err := tree.GetNode(tx, id)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		if node == nil {
			return nil, nil, nil, "", nil, enginerr.Newf(enginerr.UnknownNode, "node %s not found", id)
		}
		priorParents[id] = node.ParentId
		treeId = node.TreeId
		target := payload.TargetParentId
		if isInverse {
			target = back.priorParents[id]
		}

		resolvedName, err := resolveNameConflict(tx, target, node.Name, node.NodeType, cmd.OnNameConflict)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}

		updated := node.Clone()
		prevParent := updated.ParentId
		updated.ParentId = target
		updated.Name = resolvedName
		updated.UpdatedAt = now
		updated.Version++
		if err := tx.PutNode(updated); err != nil {
			return nil, nil, nil, "", nil, err
		}

		events = append(events, types.ChangeEvent{
			Type: types.EventMoved, NodeId: updated.Id, TreeId: updated.TreeId,
			PrevParentId: prevParent, NewParentId: updated.ParentId,
			At: now, Version: updated.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
		})
	}

	inversePairs := make([]types.NodeId, 0, len(payload.NodeIds))
	inversePairs = append(inversePairs, payload.NodeIds...)
	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdMoveNodes,
		// Inverse moves every node back to its own prior parent; since
		// MoveNodesPayload carries a single TargetParentId, the inverse
		// carries moveNodesInverse instead, which applyMoveNodes reads above.
		Payload: moveNodesInverse{priorParents: priorParents},
		IssuedAt: now,
	}
	return inversePairs, events, inverse, treeId, nil, nil
}

// moveNodesInverse captures each moved node's prior parent so undo can move
// every node back individually even though MoveNodesPayload only supports
// one shared target parent per command.
type moveNodesInverse struct {
	priorParents map[types.NodeId]types.NodeId
}
