package command

import (
	"path/filepath"
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/plugin/folder"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects every published event for assertions.
type recordingSink struct {
	events []types.ChangeEvent
}

func (s *recordingSink) Publish(e types.ChangeEvent) { s.events = append(s.events, e) }

const (
	testTreeId  types.TreeId = "tree-1"
	testRootId  types.NodeId = "root-1"
	testTrashId types.NodeId = "trash-1"
)

// hookPlugin is a configurable EntityHandler+LifecycleHooks double used to
// exercise the pipeline's before*/after* hook-timing split without folder's
// always-nil hooks.
type hookPlugin struct {
	beforeUpdateErr error
	afterUpdateErr  error
	beforeDeleteErr error
	afterDeleteErr  error
}

const hookNodeType = "hookful"

func (h *hookPlugin) CreateEntity(tx *storage.CoreTx, node *types.TreeNode, payload []byte) (*types.Entity, error) {
	entity := &types.Entity{EntityMeta: types.EntityMeta{Id: types.NewEntityId(), NodeId: node.Id, Version: 1}, Payload: payload}
	if err := tx.PutEntity(hookNodeType, entity); err != nil {
		return nil, err
	}
	return entity, nil
}
func (h *hookPlugin) GetEntity(tx *storage.CoreTx, nodeId types.NodeId) (*types.Entity, error) {
	return tx.GetEntityByNode(hookNodeType, nodeId)
}
func (h *hookPlugin) UpdateEntity(tx *storage.CoreTx, nodeId types.NodeId, payload []byte) (*types.Entity, error) {
	e, err := tx.GetEntityByNode(hookNodeType, nodeId)
	if err != nil {
		return nil, err
	}
	updated := e.Clone()
	updated.Payload = payload
	updated.Version++
	if err := tx.PutEntity(hookNodeType, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
func (h *hookPlugin) DeleteEntity(tx *storage.CoreTx, nodeId types.NodeId) error {
	return tx.DeleteEntity(hookNodeType, nodeId)
}
func (h *hookPlugin) CreateWorkingCopy(entity *types.Entity) ([]byte, error) { return entity.Payload, nil }
func (h *hookPlugin) CommitWorkingCopy(tx *storage.CoreTx, nodeId types.NodeId, draftPayload []byte) (*types.Entity, error) {
	return h.UpdateEntity(tx, nodeId, draftPayload)
}
func (h *hookPlugin) DiscardWorkingCopy(draftPayload []byte) error { return nil }

func (h *hookPlugin) AfterCreate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	return nil
}
func (h *hookPlugin) BeforeUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	return h.beforeUpdateErr
}
func (h *hookPlugin) AfterUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	return h.afterUpdateErr
}
func (h *hookPlugin) BeforeDelete(tx *storage.CoreTx, node *types.TreeNode) error {
	return h.beforeDeleteErr
}
func (h *hookPlugin) AfterDelete(tx *storage.CoreTx, node *types.TreeNode) error {
	return h.afterDeleteErr
}

func newHookPlugin(h *hookPlugin) *plugin.Plugin {
	return &plugin.Plugin{
		Definition: &plugin.Definition{
			NodeType: hookNodeType, Name: hookNodeType, SchemaVersion: 1, Reversibility: plugin.Reversible,
			Flags: plugin.LifecycleFlags{HasAfterCreate: true, HasBeforeUpdate: true, HasAfterUpdate: true, HasBeforeDelete: true, HasAfterDelete: true},
		},
		Handler: h,
	}
}

// testHarness wires a Pipeline over a fresh CoreDB+EphemeralDB with the
// folder plugin registered and a root tree already seeded.
type testHarness struct {
	t        *testing.T
	core     *storage.CoreDB
	ephem    *storage.EphemeralDB
	registry *plugin.Registry
	sink     *recordingSink
	pipeline *Pipeline
}

func newHarness(t *testing.T) *testHarness {
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
		if err := tx.PutTree(&types.Tree{TreeId: testTreeId, Name: "default", RootNodeId: testRootId, TrashRootNodeId: testTrashId}); err != nil {
			return err
		}
		root := &types.TreeNode{Id: testRootId, TreeId: testTreeId, NodeType: "root", Name: "", Version: 1}
		trash := &types.TreeNode{Id: testTrashId, TreeId: testTreeId, ParentId: testRootId, NodeType: "root", Name: "$trash", Version: 1, Removed: true}
		if err := tx.PutNode(root); err != nil {
			return err
		}
		return tx.PutNode(trash)
	}))

	sink := &recordingSink{}
	return &testHarness{
		t: t, core: core, ephem: ephem, registry: registry, sink: sink,
		pipeline: NewPipeline(core, ephem, registry, sink),
	}
}

func (h *testHarness) registerHookPlugin(t *testing.T, hp *hookPlugin) {
	t.Helper()
	require.NoError(t, h.registry.Register(newHookPlugin(hp)))
	require.NoError(t, h.core.Update(func(tx *storage.CoreTx) error {
		return tx.EnsureEntityBucket(hookNodeType, 1)
	}))
}

func (h *testHarness) createFolder(t *testing.T, parentId types.NodeId, name string) *types.Result {
	t.Helper()
	return h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCreateNode,
		Payload: types.CreateNodePayload{TreeId: testTreeId, ParentId: parentId, NodeType: folder.NodeType, Name: name},
	})
}

func TestPipeline_CreateNode_Success(t *testing.T) {
	h := newHarness(t)
	result := h.createFolder(t, testRootId, "docs")
	require.True(t, result.Success)
	require.Len(t, result.Ids, 1)
	assert.Len(t, h.sink.events, 1)
	assert.Equal(t, types.EventCreated, h.sink.events[0].Type)

	var node *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		node, err = tx.GetNode(result.Ids[0])
		return err
	}))
	assert.Equal(t, "docs", node.Name)
}

func TestPipeline_CreateNode_NameConflict_AutoRename(t *testing.T) {
	h := newHarness(t)
	first := h.createFolder(t, testRootId, "docs")
	require.True(t, first.Success)

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCreateNode,
		Payload:        types.CreateNodePayload{TreeId: testTreeId, ParentId: testRootId, NodeType: folder.NodeType, Name: "docs"},
		OnNameConflict: types.ConflictAutoRename,
	})
	require.True(t, result.Success)

	var renamed *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		renamed, err = tx.GetNode(result.Ids[0])
		return err
	}))
	assert.Equal(t, "docs (1)", renamed.Name)
}

func TestPipeline_CreateNode_NameConflict_Rejected(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.createFolder(t, testRootId, "docs").Success)

	result := h.createFolder(t, testRootId, "docs")
	require.False(t, result.Success)
	assert.Equal(t, string(enginerr.NameConflict), result.Error.Kind)
}

func TestPipeline_MoveNodes_AcyclicityRejected(t *testing.T) {
	h := newHarness(t)
	parent := h.createFolder(t, testRootId, "parent")
	require.True(t, parent.Success)
	child := h.createFolder(t, parent.Ids[0], "child")
	require.True(t, child.Success)

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdMoveNodes,
		Payload: types.MoveNodesPayload{NodeIds: []types.NodeId{parent.Ids[0]}, TargetParentId: child.Ids[0]},
	})
	require.False(t, result.Success)
	assert.Equal(t, string(enginerr.CycleDetected), result.Error.Kind)
}

func TestPipeline_MoveNodes_AcrossTrashBoundaryRejected(t *testing.T) {
	h := newHarness(t)
	node := h.createFolder(t, testRootId, "doc")
	require.True(t, node.Success)

	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdMoveNodes,
		Payload: types.MoveNodesPayload{NodeIds: []types.NodeId{node.Ids[0]}, TargetParentId: testTrashId},
	})
	require.False(t, result.Success)
	assert.Equal(t, string(enginerr.AcrossTrashBoundary), result.Error.Kind)
}

func TestPipeline_MoveToTrash_ThenRecover(t *testing.T) {
	h := newHarness(t)
	node := h.createFolder(t, testRootId, "doc")
	require.True(t, node.Success)

	newName := "B"
	renamed := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdUpdateNode,
		Payload: types.UpdateNodePayload{NodeId: node.Ids[0], Name: &newName},
	})
	require.True(t, renamed.Success)

	trashed := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdMoveToTrash,
		Payload: types.MoveToTrashPayload{NodeIds: []types.NodeId{node.Ids[0]}},
	})
	require.True(t, trashed.Success)

	var n *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = tx.GetNode(node.Ids[0])
		return err
	}))
	assert.Equal(t, testTrashId, n.ParentId)
	assert.True(t, n.Removed)

	recovered := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdRecoverFromTrash,
		Payload: types.RecoverFromTrashPayload{NodeIds: []types.NodeId{node.Ids[0]}},
	})
	require.True(t, recovered.Success)

	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = tx.GetNode(node.Ids[0])
		return err
	}))
	assert.Equal(t, testRootId, n.ParentId)
	assert.False(t, n.Removed)
	assert.EqualValues(t, 3, n.Version, "create, rename, and the trash/recover round trip must land on version 3")
}

func TestPipeline_BeforeUpdateHookFailure_AbortsCleanly(t *testing.T) {
	h := newHarness(t)
	h.registerHookPlugin(t, &hookPlugin{beforeUpdateErr: enginerr.New(enginerr.HookFailed, "rejected")})

	created := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCreateNode,
		Payload: types.CreateNodePayload{TreeId: testTreeId, ParentId: testRootId, NodeType: hookNodeType, Name: "widget"},
	})
	require.True(t, created.Success)

	newName := "renamed"
	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdUpdateNode,
		Payload: types.UpdateNodePayload{NodeId: created.Ids[0], Name: &newName},
	})
	require.False(t, result.Success)
	assert.Nil(t, result.Partial)

	var n *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = tx.GetNode(created.Ids[0])
		return err
	}))
	assert.Equal(t, "widget", n.Name, "rejected update must not mutate storage")
}

func TestPipeline_AfterUpdateHookFailure_SurfacesPartial(t *testing.T) {
	h := newHarness(t)
	h.registerHookPlugin(t, &hookPlugin{afterUpdateErr: enginerr.New(enginerr.HookFailed, "side effect failed")})

	created := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdCreateNode,
		Payload: types.CreateNodePayload{TreeId: testTreeId, ParentId: testRootId, NodeType: hookNodeType, Name: "widget"},
	})
	require.True(t, created.Success)

	newName := "renamed"
	result := h.pipeline.Execute(&types.Command{
		CommandId: types.NewCommandId(), Kind: types.CmdUpdateNode,
		Payload: types.UpdateNodePayload{NodeId: created.Ids[0], Name: &newName},
	})
	require.True(t, result.Success)
	require.NotNil(t, result.Partial)
	assert.Equal(t, string(enginerr.HookFailed), result.Partial.Kind)

	var n *types.TreeNode
	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = tx.GetNode(created.Ids[0])
		return err
	}))
	assert.Equal(t, "renamed", n.Name, "write must stand despite post-commit hook failure")
}

func TestPipeline_Undo_Redo_RoundTrip(t *testing.T) {
	h := newHarness(t)
	created := h.createFolder(t, testRootId, "docs")
	require.True(t, created.Success)

	undone := h.pipeline.Undo(testTreeId)
	require.True(t, undone.Success)

	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		n, err := tx.GetNode(created.Ids[0])
		if err != nil {
			if enginerr.KindOf(err) == enginerr.UnknownNode {
				return nil
			}
			return err
		}
		t.Fatalf("expected node to be gone after undo, got %+v", n)
		return nil
	}))

	redone := h.pipeline.Redo(testTreeId)
	require.True(t, redone.Success)

	require.NoError(t, h.core.View(func(tx *storage.CoreTx) error {
		n, err := tx.GetNode(redone.Ids[0])
		if err != nil {
			return err
		}
		assert.Equal(t, "docs", n.Name)
		return nil
	}))
}

func TestPipeline_UnknownCommandKind(t *testing.T) {
	h := newHarness(t)
	result := h.pipeline.Execute(&types.Command{CommandId: types.NewCommandId(), Kind: types.CommandKind("bogus")})
	require.False(t, result.Success)
	assert.Equal(t, string(enginerr.InvalidPayload), result.Error.Kind)
}
