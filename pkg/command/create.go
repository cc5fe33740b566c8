package command

import (
	"strconv"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateCreateNode(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.CreateNodePayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "createNode requires CreateNodePayload")
	}
	if payload.Name == "" {
		return enginerr.New(enginerr.InvalidName, "name must not be empty")
	}
	if _, err := p.registry.GetHandler(payload.NodeType); err != nil {
		return err
	}
	parent, err := tree.GetNode(tx, payload.ParentId)
	if err != nil {
		return err
	}
	if parent == nil {
		return enginerr.Newf(enginerr.UnknownNode, "parent %s not found", payload.ParentId)
	}
	return p.registry.Validate(payload.NodeType, &types.TreeNode{
		TreeId: payload.TreeId, ParentId: payload.ParentId, Name: payload.Name, NodeType: payload.NodeType,
	}, payload.InitialEntityData)
}

func applyCreateNode(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.CreateNodePayload)

	name, err := resolveNameConflict(tx, payload.ParentId, payload.Name, payload.NodeType, cmd.OnNameConflict)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}

	now := nowMillis()
	node := &types.TreeNode{
		Id: types.NewNodeId(), TreeId: payload.TreeId, ParentId: payload.ParentId,
		Name: name, NodeType: payload.NodeType, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := tx.PutNode(node); err != nil {
		return nil, nil, nil, "", nil, err
	}

	handler, err := p.registry.GetHandler(payload.NodeType)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}
	entity, err := handler.CreateEntity(tx, node, payload.InitialEntityData)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}

	event := types.ChangeEvent{
		Type: types.EventCreated, NodeId: node.Id, TreeId: node.TreeId, NewParentId: node.ParentId,
		At: now, Version: node.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
	}
	_ = entity

	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdRemovePermanent,
		Payload: types.RemovePermanentPayload{NodeIds: []types.NodeId{node.Id}}, IssuedAt: now,
	}
	return []types.NodeId{node.Id}, []types.ChangeEvent{event}, inverse, payload.TreeId, nil, nil
}

func postCommitCreateNode(p *Pipeline, tx *storage.CoreTx, cmd *types.Command, ids []types.NodeId) error {
	payload := cmd.Payload.(types.CreateNodePayload)
	node, err := tree.GetNode(tx, ids[0])
	if err != nil || node == nil {
		return err
	}
	handler, err := p.registry.GetHandler(payload.NodeType)
	if err != nil {
		return err
	}
	entity, err := handler.GetEntity(tx, node.Id)
	if err != nil {
		return err
	}
	return p.registry.AfterCreate(tx, node, entity)
}

// resolveNameConflict checks sibling uniqueness and, per cmd.OnNameConflict,
// either rejects, auto-renames with a numeric suffix, or (replace-if-same-
// type) evicts the conflicting sibling to make room.
func resolveNameConflict(tx *storage.CoreTx, parentId types.NodeId, name, nodeType string, policy types.NameConflictPolicy) (string, error) {
	conflictId, ok, err := tree.FindSiblingConflict(tx, parentId, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return name, nil
	}

	switch policy {
	case types.ConflictAutoRename:
		for i := 1; i < 10000; i++ {
			candidate := nameWithSuffix(name, i)
			if _, stillConflicts, err := tree.FindSiblingConflict(tx, parentId, candidate); err != nil {
				return "", err
			} else if !stillConflicts {
				return candidate, nil
			}
		}
		return "", enginerr.Newf(enginerr.NameConflict, "could not find a free name for %q under %s", name, parentId)
	case types.ConflictReplaceIfSameType:
		existing, err := tree.GetNode(tx, conflictId)
		if err != nil {
			return "", err
		}
		if existing == nil || existing.NodeType != nodeType {
			return "", enginerr.Newf(enginerr.NameConflict, "sibling %q exists with a different nodeType", name).
				WithDetails(map[string]any{"conflictingNodeId": conflictId})
		}
		if err := tx.DeleteNode(conflictId); err != nil {
			return "", err
		}
		return name, nil
	default:
		return "", enginerr.Newf(enginerr.NameConflict, "a sibling named %q already exists", name).
			WithDetails(map[string]any{"conflictingNodeId": conflictId})
	}
}

func nameWithSuffix(name string, n int) string {
	return name + " (" + strconv.Itoa(n) + ")"
}
