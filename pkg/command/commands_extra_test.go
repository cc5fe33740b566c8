package command

import (
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/plugin/folder"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_DuplicateNodes_CopiesSubtree(t *testing.T) {
	h := newHarness(t)
	parent := h.createFolder(t, testRootId, "parent")
	require.True(t, parent.Success)
	child := h.createFolder(t, parent.Ids[0], "child")
	require.True(t, child.Success)

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdDuplicateNodes,
		Payload: types.DuplicateNodesPayload{NodeIds: []types.NodeId{parent.Ids[0]}, TargetParentId: testRootId},
	})
	require.True(t, result.Success)
	require.Len(t, result.Ids, 2, "duplicate must copy parent and its child")

	var dupParent *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		dupParent, err = tx.GetNode(result.Ids[0])
		return err
	}))
	assert.Equal(t, "parent (1)", dupParent.Name)

	var childIds []types.NodeId
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		childIds, err = tx.ChildNodeIds(dupParent.Id)
		return err
	}))
	require.Len(t, childIds, 1)
}

func TestPipeline_CopyPaste_RoundTrip(t *testing.T) {
	h := newHarness(t)
	src := h.createFolder(t, testRootId, "source")
	require.True(t, src.Success)
	h.createFolder(t, src.Ids[0], "leaf")

	copied := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCopyNodes,
		Payload: types.CopyNodesPayload{NodeIds: []types.NodeId{src.Ids[0]}},
	})
	require.True(t, copied.Success)
	require.NotNil(t, copied.Export)
	require.Len(t, copied.Export.Nodes, 2)

	dest := h.createFolder(t, testRootId, "dest")
	require.True(t, dest.Success)

	pasted := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdPasteNodes,
		Payload: types.PasteNodesPayload{TargetParentId: dest.Ids[0], Subtree: *copied.Export},
	})
	require.True(t, pasted.Success)
	require.Len(t, pasted.Ids, 2)

	var childIds []types.NodeId
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		childIds, err = tx.ChildNodeIds(dest.Ids[0])
		return err
	}))
	require.Len(t, childIds, 1)
}

func TestPipeline_RemovePermanent_HardDeletesSubtreeAndIsNotJournaled(t *testing.T) {
	h := newHarness(t)
	parent := h.createFolder(t, testRootId, "toDelete")
	require.True(t, parent.Success)
	child := h.createFolder(t, parent.Ids[0], "child")
	require.True(t, child.Success)

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdRemovePermanent,
		Payload: types.RemovePermanentPayload{NodeIds: []types.NodeId{parent.Ids[0]}},
	})
	require.True(t, result.Success)
	assert.ElementsMatch(t, []types.NodeId{parent.Ids[0], child.Ids[0]}, result.Ids)

	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		_, err := tx.GetNode(parent.Ids[0])
		assert.Equal(t, enginerr.UnknownNode, enginerr.KindOf(err))
		_, err = tx.GetNode(child.Ids[0])
		assert.Equal(t, enginerr.UnknownNode, enginerr.KindOf(err))
		return nil
	}))

	// removePermanent must not be journaled: the undo stack holds only the
	// two createNode entries, and once they are popped nothing is left.
	for i := 0; i < 2; i++ {
		require.True(t, h.pipeline.Undo(testTreeId).Success)
	}
	undone := h.pipeline.Undo(testTreeId)
	require.False(t, undone.Success)
	assert.Equal(t, string(enginerr.UndoUnavailable), undone.Error.Kind)
}

func TestPipeline_ExportImportNodes_RoundTrip(t *testing.T) {
	h := newHarness(t)
	src := h.createFolder(t, testRootId, "exportMe")
	require.True(t, src.Success)

	exported := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdExportNodes,
		Payload: types.ExportNodesPayload{RootNodeId: src.Ids[0]},
	})
	require.True(t, exported.Success)
	require.NotNil(t, exported.Export)

	dest := h.createFolder(t, testRootId, "importTarget")
	require.True(t, dest.Success)

	imported := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdImportNodes,
		Payload: types.ImportNodesPayload{TreeId: testTreeId, ParentNodeId: dest.Ids[0], Subtree: *exported.Export},
	})
	require.True(t, imported.Success)
	require.Len(t, imported.Ids, 1)
}

func TestPipeline_CommitWorkingCopy_UpdatesEntityAndDeletesDraft(t *testing.T) {
	h := newHarness(t)
	node := h.createFolder(t, testRootId, "editable")
	require.True(t, node.Success)

	wc := &types.WorkingCopy{
		WorkingCopyId: types.NewWorkingCopyId(), WorkingCopyOf: node.Ids[0], NodeType: folder.NodeType,
		Name: "editable", Payload: []byte(`{"description":"updated"}`), ExpiresAt: 9999999999999,
	}
	require.NoError(t, h.ephem.Update(func(tx *storage.EphemeralTx) error { return tx.PutWorkingCopy(wc) }))

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCommitWorkingCopy,
		Payload: types.CommitWorkingCopyPayload{WorkingCopyId: wc.WorkingCopyId},
	})
	require.True(t, result.Success)

	require.NoError(t, h.ephem.View(func(tx *storage.EphemeralTx) error {
		_, err := tx.GetWorkingCopy(wc.WorkingCopyId)
		assert.Equal(t, enginerr.UnknownWorkingCopy, enginerr.KindOf(err))
		return nil
	}))

	var entity *types.Entity
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		entity, err = tx.GetEntityByNode(folder.NodeType, node.Ids[0])
		return err
	}))
	assert.JSONEq(t, `{"description":"updated"}`, string(entity.Payload))
}

func TestPipeline_CommitWorkingCopyForCreate_CreatesNode(t *testing.T) {
	h := newHarness(t)

	wc := &types.WorkingCopy{
		WorkingCopyId: types.NewWorkingCopyId(), ParentId: testRootId, NodeType: folder.NodeType,
		Name: "brandNew", Payload: []byte(`{"description":"fresh"}`), ExpiresAt: 9999999999999,
	}
	require.NoError(t, h.ephem.Update(func(tx *storage.EphemeralTx) error { return tx.PutWorkingCopy(wc) }))

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCommitWorkingCopyForCreate,
		Payload: types.CommitWorkingCopyForCreatePayload{WorkingCopyId: wc.WorkingCopyId},
	})
	require.True(t, result.Success)
	require.Len(t, result.Ids, 1)

	var n *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = tx.GetNode(result.Ids[0])
		return err
	}))
	assert.Equal(t, "brandNew", n.Name)

	require.NoError(t, h.ephem.View(func(tx *storage.EphemeralTx) error {
		_, err := tx.GetWorkingCopy(wc.WorkingCopyId)
		assert.Equal(t, enginerr.UnknownWorkingCopy, enginerr.KindOf(err))
		return nil
	}))
}
