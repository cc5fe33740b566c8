package engine_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/engine"
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/enginetest"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/plugin/folder"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*engine.Engine, *types.Tree) {
	return enginetest.New(t)
}

func TestInitialize_OpensStoresAndBootstrapsTree(t *testing.T) {
	e, tr := newEngine(t)
	require.NotEmpty(t, tr.TreeId)
	require.NotEmpty(t, tr.RootNodeId)
	require.NotEmpty(t, tr.TrashRootNodeId)

	got, err := e.GetQueryAPI().GetTree(tr.TreeId)
	require.NoError(t, err)
	assert.Equal(t, tr.Name, got.Name)
}

func TestInitialize_RejectsDuplicatePluginRegistration(t *testing.T) {
	dir := t.TempDir()
	_, err := engine.Initialize(engine.Config{
		CoreDBPath:      filepath.Join(dir, "core.db"),
		EphemeralDBPath: filepath.Join(dir, "ephemeral.db"),
		Plugins:         []*plugin.Plugin{folder.Plugin(), folder.Plugin()},
	})
	require.Error(t, err)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	e, err := engine.Initialize(engine.Config{
		CoreDBPath:      filepath.Join(dir, "core.db"),
		EphemeralDBPath: filepath.Join(dir, "ephemeral.db"),
	})
	require.NoError(t, err)
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
}

func TestGetSystemHealth_ReportsLiveStores(t *testing.T) {
	e, _ := newEngine(t)
	health := e.GetSystemHealth()
	assert.True(t, health.Databases.CoreDB)
	assert.True(t, health.Databases.EphemeralDB)
	assert.True(t, health.Services["query"])
	assert.True(t, health.Services["mutation"])
	assert.GreaterOrEqual(t, health.UptimeMs, int64(0))
}

func TestGetSystemHealth_AfterShutdown_ReportsStoresDown(t *testing.T) {
	dir := t.TempDir()
	e, err := engine.Initialize(engine.Config{
		CoreDBPath:      filepath.Join(dir, "core.db"),
		EphemeralDBPath: filepath.Join(dir, "ephemeral.db"),
	})
	require.NoError(t, err)
	require.NoError(t, e.Shutdown())

	health := e.GetSystemHealth()
	assert.False(t, health.Databases.CoreDB)
	assert.False(t, health.Databases.EphemeralDB)
}

func TestCreateTree_DoesNotEmitChangeEvent(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.CreateTree("another")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, e.GetSubscriptionAPI().GetRecentEvents("", 0))
}

func TestSubAPIs_ShortcutTargetOperationsRoundTrip(t *testing.T) {
	e, tr := newEngine(t)

	got, err := e.GetQueryAPI().GetTree(tr.TreeId)
	require.NoError(t, err)
	assert.Equal(t, tr.TreeId, got.TreeId)

	trees, err := e.GetQueryAPI().ListTrees()
	require.NoError(t, err)
	assert.Len(t, trees, 1)

	result := e.GetMutationAPI().CreateNode(tr.TreeId, tr.RootNodeId, "folder", "docs", nil, types.ConflictReject)
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Ids, 1)

	node, err := e.GetQueryAPI().GetNode(result.Ids[0])
	require.NoError(t, err)
	assert.Equal(t, "docs", node.Name)

	removed := e.GetMutationAPI().RemoveNodes(result.Ids)
	require.True(t, removed.Success, removed.Error)

	recovered := e.GetMutationAPI().RecoverFromTrash(result.Ids, tr.RootNodeId)
	require.True(t, recovered.Success, recovered.Error)
}

func TestExecuteCommand_IsIdempotentByCommandId(t *testing.T) {
	e, tr := newEngine(t)
	cmdId := types.NewCommandId()
	cmd := &types.Command{
		CommandId: cmdId, Kind: types.CmdCreateNode,
		Payload: types.CreateNodePayload{TreeId: tr.TreeId, ParentId: tr.RootNodeId, NodeType: "folder", Name: "dup-test"},
	}

	first := e.GetMutationAPI().ExecuteCommand(cmd)
	require.True(t, first.Success, first.Error)

	second := e.GetMutationAPI().ExecuteCommand(cmd)
	require.True(t, second.Success)
	assert.Equal(t, first.Ids, second.Ids)

	children, err := e.GetQueryAPI().GetChildren(tr.RootNodeId, types.ChildrenQuery{})
	require.NoError(t, err)
	assert.Len(t, children, 1, "replaying the same commandId must not create a second node")
}

func TestExecuteCommand_UnknownNodeType_ReturnsCleanError(t *testing.T) {
	e, tr := newEngine(t)
	result := e.GetMutationAPI().ExecuteCommand(&types.Command{
		Kind:    types.CmdCreateNode,
		Payload: types.CreateNodePayload{TreeId: tr.TreeId, ParentId: tr.RootNodeId, NodeType: "nonexistent", Name: "x"},
	})
	require.False(t, result.Success)
	assert.Equal(t, string(enginerr.UnknownNodeType), result.Error.Kind)
}
