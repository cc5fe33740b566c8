package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// Working copies live in EphemeralDB, a separate bbolt file from CoreDB, so
// commitWorkingCopy cannot be a single atomic bbolt transaction spanning
// both. It instead reads+validates the draft in EphemeralDB first, applies
// the entity write in CoreDB's transaction (the pipeline's normal apply
// stage), and only deletes the EphemeralDB row once that has committed. A
// crash between those two steps leaves a stale working copy behind, which
// the TTL sweep (pkg/sweep) eventually reaps; this path does not need
// stronger cross-store atomicity than that.

func validateCommitWorkingCopy(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.CommitWorkingCopyPayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "commitWorkingCopy requires CommitWorkingCopyPayload")
	}
	var wc *types.WorkingCopy
	err := p.ephemeral.View(func(etx *storage.EphemeralTx) error {
		var geterr error
		wc, geterr = etx.GetWorkingCopy(payload.WorkingCopyId)
		return geterr
	})
	if err != nil {
		return err
	}
	if wc.IsDraft() {
		return enginerr.New(enginerr.InvalidPayload, "commitWorkingCopy requires an edit-existing working copy; use commitWorkingCopyForCreate for drafts")
	}
	if n, err := tree.GetNode(tx, wc.WorkingCopyOf); err != nil {
		return err
	} else if n == nil {
		return enginerr.Newf(enginerr.UnknownNode, "node %s not found", wc.WorkingCopyOf)
	}
	return nil
}

func applyCommitWorkingCopy(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.CommitWorkingCopyPayload)

	var wc *types.WorkingCopy
	if err := p.ephemeral.View(func(etx *storage.EphemeralTx) error {
		var geterr error
		wc, geterr = etx.GetWorkingCopy(payload.WorkingCopyId)
		return geterr
	}); err != nil {
		return nil, nil, nil, "", nil, err
	}

	node, err := tree.GetNode(tx, wc.WorkingCopyOf)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}
	if node == nil {
		return nil, nil, nil, "", nil, enginerr.Newf(enginerr.UnknownNode, "node %s not found", wc.WorkingCopyOf)
	}

	handler, err := p.registry.GetHandler(node.NodeType)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}
	if _, err := handler.CommitWorkingCopy(tx, node.Id, wc.Payload); err != nil {
		return nil, nil, nil, "", nil, err
	}

	updated := node.Clone()
	updated.UpdatedAt = nowMillis()
	updated.Version++
	if err := tx.PutNode(updated); err != nil {
		return nil, nil, nil, "", nil, err
	}

	event := types.ChangeEvent{
		Type: types.EventUpdated, NodeId: updated.Id, TreeId: updated.TreeId,
		At: updated.UpdatedAt, Version: updated.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
	}
	// Committing a working copy is not journaled: the draft payload that
	// would be needed to undo it is discarded once committed.
	return []types.NodeId{updated.Id}, []types.ChangeEvent{event}, nil, updated.TreeId, nil, nil
}

func postCommitCommitWorkingCopy(p *Pipeline, tx *storage.CoreTx, cmd *types.Command, ids []types.NodeId) error {
	payload := cmd.Payload.(types.CommitWorkingCopyPayload)

	node, err := tree.GetNode(tx, ids[0])
	if err != nil || node == nil {
		return err
	}
	handler, err := p.registry.GetHandler(node.NodeType)
	if err == nil {
		if entity, geterr := handler.GetEntity(tx, node.Id); geterr == nil {
			if hookErr := p.registry.AfterUpdate(tx, node, entity); hookErr != nil {
				return hookErr
			}
		}
	}
	return p.ephemeral.Update(func(etx *storage.EphemeralTx) error { return etx.DeleteWorkingCopy(payload.WorkingCopyId) })
}

func validateCommitWorkingCopyForCreate(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error {
	payload, ok := cmd.Payload.(types.CommitWorkingCopyForCreatePayload)
	if !ok {
		return enginerr.New(enginerr.InvalidPayload, "commitWorkingCopyForCreate requires CommitWorkingCopyForCreatePayload")
	}
	var wc *types.WorkingCopy
	err := p.ephemeral.View(func(etx *storage.EphemeralTx) error {
		var geterr error
		wc, geterr = etx.GetWorkingCopy(payload.WorkingCopyId)
		return geterr
	})
	if err != nil {
		return err
	}
	if !wc.IsDraft() {
		return enginerr.New(enginerr.InvalidPayload, "commitWorkingCopyForCreate requires a create-new draft; use commitWorkingCopy for edits")
	}
	if _, err := p.registry.GetHandler(wc.NodeType); err != nil {
		return err
	}
	parent, err := tree.GetNode(tx, wc.ParentId)
	if err != nil {
		return err
	}
	if parent == nil {
		return enginerr.Newf(enginerr.UnknownNode, "parent %s not found", wc.ParentId)
	}
	return nil
}

func applyCommitWorkingCopyForCreate(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) ([]types.NodeId, []types.ChangeEvent, *types.Command, types.TreeId, *types.ExportedSubtree, error) {
	payload := cmd.Payload.(types.CommitWorkingCopyForCreatePayload)

	var wc *types.WorkingCopy
	if err := p.ephemeral.View(func(etx *storage.EphemeralTx) error {
		var geterr error
		wc, geterr = etx.GetWorkingCopy(payload.WorkingCopyId)
		return geterr
	}); err != nil {
		return nil, nil, nil, "", nil, err
	}

	parent, err := tree.GetNode(tx, wc.ParentId)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}

	name, err := resolveNameConflict(tx, wc.ParentId, wc.Name, wc.NodeType, types.ConflictAutoRename)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}

	now := nowMillis()
	node := &types.TreeNode{
		Id: types.NewNodeId(), TreeId: parent.TreeId, ParentId: wc.ParentId,
		Name: name, NodeType: wc.NodeType, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := tx.PutNode(node); err != nil {
		return nil, nil, nil, "", nil, err
	}

	handler, err := p.registry.GetHandler(wc.NodeType)
	if err != nil {
		return nil, nil, nil, "", nil, err
	}
	if _, err := handler.CreateEntity(tx, node, wc.Payload); err != nil {
		return nil, nil, nil, "", nil, err
	}

	event := types.ChangeEvent{
		Type: types.EventCreated, NodeId: node.Id, TreeId: node.TreeId, NewParentId: node.ParentId,
		At: now, Version: node.Version, Cause: types.EventCause{CommandId: cmd.CommandId, GroupId: cmd.GroupId},
	}
	inverse := &types.Command{
		CommandId: types.NewCommandId(), GroupId: cmd.GroupId, Kind: types.CmdRemovePermanent,
		Payload: types.RemovePermanentPayload{NodeIds: []types.NodeId{node.Id}}, IssuedAt: now,
	}
	return []types.NodeId{node.Id}, []types.ChangeEvent{event}, inverse, node.TreeId, nil, nil
}

func postCommitCommitWorkingCopyForCreate(p *Pipeline, tx *storage.CoreTx, cmd *types.Command, ids []types.NodeId) error {
	payload := cmd.Payload.(types.CommitWorkingCopyForCreatePayload)

	node, err := tree.GetNode(tx, ids[0])
	if err != nil || node == nil {
		return err
	}
	handler, err := p.registry.GetHandler(node.NodeType)
	if err == nil {
		if entity, geterr := handler.GetEntity(tx, node.Id); geterr == nil {
			if hookErr := p.registry.AfterCreate(tx, node, entity); hookErr != nil {
				return hookErr
			}
		}
	}
	return p.ephemeral.Update(func(etx *storage.EphemeralTx) error { return etx.DeleteWorkingCopy(payload.WorkingCopyId) })
}
