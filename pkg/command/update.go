package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateUpdateNode(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.UpdateNodePayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "updateNode requires UpdateNodePayload")
	}
	node, err := tree.GetNode(tx, payload.NodeId)
	if err != nil {
		return err
	}
	if node == nil {
		return enginerr.Newf(enginerr.UnknownNode, "node %s not found", payload.NodeId)
	}
	if payload.Name != nil && *payload.Name == "" {
		return enginerr.New(enginerr.InvalidName, "name must not be empty")
	}
	return nil
}

func applyUpdateNode(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.UpdateNodePayload)
	node, err := tree.GetNode(tx, payload.NodeId)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}
	if node == nil {
		return nil, nil, nil, "", nil, enginerr.Newf(enginerr.UnknownNode, "node %s not found", payload.NodeId)
	}

	priorName := node.Name
	updated := node.Clone()
	if payload.Name != nil {
		resolved, err := resolveNameConflict(tx, node.ParentId, *payload.Name, node.NodeType, cmd.OnNameConflict)
		if err != nil {
			return nil, nil, nil, "", nil, err
		}
		updated.Name = resolved
	}
	updated.UpdatedAt = nowMillis()
	updated.Version++

	handler, err := p.registry.GetHandler(node.NodeType)
	if err == nil {
		if entity, geterr := handler.GetEntity(tx, node.Id); geterr == nil {
			if hookErr := p.registry.BeforeUpdate(tx, updated, entity); hookErr != nil {
				return nil, nil, nil, "", nil, enginerr.Wrap(enginerr.HookFailed, hookErr, "beforeUpdate hook rejected this change")
			}
		}
	}

	if err := tx.PutNode(updated); err != nil {
		return nil, nil, nil, "", nil, err
	}

	event := types.ChangeEvent{
		Type: types.EventUpdated, NodeId: updated.Id, TreeId: updated.TreeId,
		At: updated.UpdatedAt, Version: updated.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
	}

	priorNameCopy := priorName
	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdUpdateNode,
		Payload: types.UpdateNodePayload{NodeId: node.Id, Name: &priorNameCopy}, IssuedAt: nowMillis(),
	}
	return []types.NodeId{updated.Id}, []types.ChangeEvent{event}, inverse, updated.TreeId, nil, nil
}

func postCommitUpdateNode(p *Pipeline, tx *storage.CoreTx, cmd *types.Command, ids []types.NodeId) error {
	node, err := tree.GetNode(tx, ids[0])
	if err != nil || node == nil {
		return err
	}
	handler, err := p.registry.GetHandler(node.NodeType)
	if err != nil {
		return nil
	}
	entity, err := handler.GetEntity(tx, node.Id)
	if err != nil {
		return nil
	}
	return p.registry.AfterUpdate(tx, node, entity)
}
