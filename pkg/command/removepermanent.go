package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func validateRemovePermanent(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.RemovePermanentPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "removePermanent requires RemovePermanentPayload")
	}
	if len(payload.NodeIds) == 0 {
		return enginerr.New(enginerr.InvalidPayload, "removePermanent requires at least one nodeId")
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

// applyRemovePermanent hard-deletes each node and its descendants. It is
// irreversible and never journaled — the pipeline dispatch table sets
// journal:false for this kind so it never
// reaches journalPush regardless of what apply returns here.
func applyRemovePermanent(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.RemovePermanentPayload)

	var (
		removedIds []types.NodeId
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
			continue // already gone; removePermanent is idempotent per node
		}
		treeId = root.TreeId
		if err := removeSubtreePermanent(p, tx, root, cmd, now, &removedIds, &events); err != nil {
			return nil, nil, nil, "", nil, err
		}
	}

	return removedIds, events, nil, treeId, nil, nil
}

func removeSubtreePermanent(p *Pipeline, tx *storage.CoreTx, node *types.TreeNode, cmd *types.Command, now types.Timestamp, removedIds *[]types.NodeId, events *[]types.ChangeEvent) error {
	childIds, err := tx.ChildNodeIds(node.Id)
	if err != nil {
		return err
	}
	for _, childId := range childIds {
		child, err := tree.GetNode(tx, childId)
		if err != nil {
			return err
		}
		if err := removeSubtreePermanent(p, tx, child, cmd, now, removedIds, events); err != nil {
			return err
		}
	}

	if handler, err := p.registry.GetHandler(node.NodeType); err == nil {
		if hookErr := p.registry.BeforeDelete(tx, node); hookErr != nil {
			return enginerr.Wrap(enginerr.HookFailed, hookErr, "beforeDelete hook rejected this deletion")
		}
		if err := handler.DeleteEntity(tx, node.Id); err != nil {
			return err
		}
	}

	if err := tx.DeleteNode(node.Id); err != nil {
		return err
	}

	// AfterDelete runs here, in the same transaction as the delete, rather
	// than post-commit like AfterCreate/AfterUpdate: once the node row is
	// gone there is no persisted state left for a later transaction to read,
	// and removePermanent is never journaled, so a failing AfterDelete rolls
	// the whole deletion back instead of surfacing as PartialFailure.
	if err := p.registry.AfterDelete(tx, node); err != nil {
		return enginerr.Wrap(enginerr.HookFailed, err, "afterDelete hook failed")
	}

	*removedIds = append(*removedIds, node.Id)
	*events = append(*events, types.ChangeEvent{
		Type: types.EventRemoved, NodeId: node.Id, TreeId: node.TreeId, PrevParentId: node.ParentId,
		At: now, Version: node.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
	})
	return nil
}
