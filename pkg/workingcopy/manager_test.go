package workingcopy_test

import (
	"path/filepath"
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/command"
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/plugin/folder"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/kubohiroya/hierarchidb/pkg/workingcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTreeId types.TreeId = "tree-1"
	testRootId types.NodeId = "root-1"
)

type noopSink struct{}

func (noopSink) Publish(types.ChangeEvent) {}

type harness struct {
	core    *storage.CoreDB
	ephem   *storage.EphemeralDB
	manager *workingcopy.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, err := storage.OpenCoreDB(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })

	ephem, err := storage.OpenEphemeralDB(filepath.Join(t.TempDir(), "ephemeral.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ephem.Close() })

	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(folder.Plugin()))

	require.NoError(t, core.Update(func(tx *storage.CoreTx) error {
		if err := tx.EnsureEntityBucket(folder.NodeType, 1); err != nil {
			return err
		}
		if err := tx.PutTree(&types.Tree{TreeId: testTreeId, Name: "default", RootNodeId: testRootId}); err != nil {
			return err
		}
		return tx.PutNode(&types.TreeNode{Id: testRootId, TreeId: testTreeId, NodeType: "root", Version: 1})
	}))

	pipeline := command.NewPipeline(core, ephem, registry, noopSink{})
	return &harness{core: core, ephem: ephem, manager: workingcopy.NewManager(core, ephem, registry, pipeline)}
}

func TestManager_CreateWorkingCopy_RoundTripsThroughCommit(t *testing.T) {
	h := newHarness(t)

	var nodeId types.NodeId
	require.NoError(t, h.core.Update(func(tx *storage.CoreTx) error {
		node := &types.TreeNode{Id: types.NewNodeId(), TreeId: testTreeId, ParentId: testRootId, Name: "doc", NodeType: folder.NodeType, Version: 1}
		if err := tx.PutNode(node); err != nil {
			return err
		}
		registry := plugin.NewRegistry()
		require.NoError(t, registry.Register(folder.Plugin()))
		handler, err := registry.GetHandler(folder.NodeType)
		if err != nil {
			return err
		}
		_, err = handler.CreateEntity(tx, node, []byte(`{"description":"original"}`))
		nodeId = node.Id
		return err
	}))

	wc, err := h.manager.CreateWorkingCopy(nodeId, "session-a", false)
	require.NoError(t, err)
	assert.False(t, wc.IsDraft())
	assert.Equal(t, "doc", wc.Name)

	_, err = h.manager.CreateWorkingCopy(nodeId, "session-a", false)
	assert.Equal(t, enginerr.WorkingCopyExists, enginerr.KindOf(err))

	forced, err := h.manager.CreateWorkingCopy(nodeId, "session-b", true)
	require.NoError(t, err)

	cmdId := types.NewCommandId()
	result := h.manager.CommitWorkingCopy(forced.WorkingCopyId, cmdId)
	require.True(t, result.Success)

	again := h.manager.CommitWorkingCopy(forced.WorkingCopyId, cmdId)
	assert.Equal(t, result, again, "retrying the same commandId must return the cached result, not re-run the commit")
}

func TestManager_CreateDraftWorkingCopy_CommitForCreate(t *testing.T) {
	h := newHarness(t)

	draft, err := h.manager.CreateDraftWorkingCopy(testRootId, folder.NodeType, "brandNew", "session-a")
	require.NoError(t, err)
	assert.True(t, draft.IsDraft())

	result := h.manager.CommitWorkingCopyForCreate(draft.WorkingCopyId, types.NewCommandId())
	require.True(t, result.Success)
	require.Len(t, result.Ids, 1)

	var n *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = tx.GetNode(result.Ids[0])
		return err
	}))
	assert.Equal(t, "brandNew", n.Name)
}

func TestManager_DiscardWorkingCopy_RemovesRow(t *testing.T) {
	h := newHarness(t)

	draft, err := h.manager.CreateDraftWorkingCopy(testRootId, folder.NodeType, "scratch", "session-a")
	require.NoError(t, err)

	require.NoError(t, h.manager.DiscardWorkingCopy(draft.WorkingCopyId))

	require.NoError(t, h.ephem.View(func(tx *storage.EphemeralTx) error {
		_, err := tx.GetWorkingCopy(draft.WorkingCopyId)
		assert.Equal(t, enginerr.UnknownWorkingCopy, enginerr.KindOf(err))
		return nil
	}))
}
