package engine

import (
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/command"
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/puzpuzpuz/xsync/v4"
	"gopkg.in/yaml.v3"
)

// MutationAPI surfaces executeCommand plus a convenience wrapper per command
// kind. It is the one sub-API that enforces the RPC-level timeout and
// cross-retry idempotency required of every call;
// pkg/command.Pipeline.Execute itself already guarantees no panic escapes,
// so this layer adds the two concerns the pipeline can't own by itself.
type MutationAPI struct {
	engine   *Engine
	pipeline *command.Pipeline

	// idempotency caches a completed result by CommandId across every
	// command kind — the general form of the cache pkg/workingcopy.Manager
	// keeps for just its two commit kinds: a subsequent identical commit
	// with the same commandId must be idempotent.
	idempotency *xsync.Map[types.CommandId, *types.Result]
}

func newMutationAPI(e *Engine, pipeline *command.Pipeline) *MutationAPI {
	return &MutationAPI{engine: e, pipeline: pipeline, idempotency: xsync.NewMap[types.CommandId, *types.Result]()}
}

// ExecuteCommand is the RPC facade's single mutation entry point. A command
// issued without a CommandId gets a fresh one, which disables
// idempotency for that particular call (there is nothing to retry against).
//
// The call runs the pipeline asynchronously and races it against the
// configured RPC timeout. On timeout the command keeps running in the
// background — its eventual result still lands in the idempotency cache and
// its events still reach subscribers — only the RPC caller sees RpcTimeout
// instead of waiting; the timeout never cancels the in-flight work.
func (a *MutationAPI) ExecuteCommand(cmd *types.Command) *types.Result {
	if cmd.CommandId == "" {
		cmd.CommandId = types.NewCommandId()
	}
	if cached, ok := a.idempotency.Load(cmd.CommandId); ok {
		return cached
	}
	if cmd.IssuedAt == 0 {
		cmd.IssuedAt = nowMillis()
	}

	done := make(chan *types.Result, 1)
	go func() {
		result := func() (result *types.Result) {
			defer recoverToResult(a.engine.logger, string(cmd.Kind), &result)
			return a.pipeline.Execute(cmd)
		}()
		a.idempotency.Store(cmd.CommandId, result)
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(a.engine.cfg.rpcTimeout()):
		a.engine.logger.Warn().Str("commandId", string(cmd.CommandId)).Str("kind", string(cmd.Kind)).
			Msg("rpc timeout; command continues executing in the background")
		return &types.Result{Success: false, Error: &types.CommandError{
			Kind: string(enginerr.RpcTimeout), Message: "command did not complete within the RPC timeout",
		}}
	}
}

func (a *MutationAPI) CreateNode(treeId types.TreeId, parentId types.NodeId, nodeType, name string, initialEntityData []byte, onNameConflict types.NameConflictPolicy) *types.Result {
	return a.ExecuteCommand(&types.Command{
		Kind: types.CmdCreateNode, OnNameConflict: onNameConflict,
		Payload: types.CreateNodePayload{TreeId: treeId, ParentId: parentId, NodeType: nodeType, Name: name, InitialEntityData: initialEntityData},
	})
}

func (a *MutationAPI) UpdateNode(nodeId types.NodeId, name *string) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdUpdateNode, Payload: types.UpdateNodePayload{NodeId: nodeId, Name: name}})
}

func (a *MutationAPI) MoveNodes(nodeIds []types.NodeId, targetParentId types.NodeId, position *int, onNameConflict types.NameConflictPolicy) *types.Result {
	return a.ExecuteCommand(&types.Command{
		Kind: types.CmdMoveNodes, OnNameConflict: onNameConflict,
		Payload: types.MoveNodesPayload{NodeIds: nodeIds, TargetParentId: targetParentId, Position: position},
	})
}

func (a *MutationAPI) DuplicateNodes(nodeIds []types.NodeId, targetParentId types.NodeId) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdDuplicateNodes, Payload: types.DuplicateNodesPayload{NodeIds: nodeIds, TargetParentId: targetParentId}})
}

func (a *MutationAPI) CopyNodes(nodeIds []types.NodeId) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdCopyNodes, Payload: types.CopyNodesPayload{NodeIds: nodeIds}})
}

func (a *MutationAPI) PasteNodes(targetParentId types.NodeId, subtree types.ExportedSubtree) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdPasteNodes, Payload: types.PasteNodesPayload{TargetParentId: targetParentId, Subtree: subtree}})
}

// RemoveNodes is the backward-compat name for moveToTrash.
func (a *MutationAPI) RemoveNodes(nodeIds []types.NodeId) *types.Result {
	return a.MoveToTrash(nodeIds)
}

func (a *MutationAPI) MoveToTrash(nodeIds []types.NodeId) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdMoveToTrash, Payload: types.MoveToTrashPayload{NodeIds: nodeIds}})
}

func (a *MutationAPI) RecoverFromTrash(nodeIds []types.NodeId, toParentId types.NodeId) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdRecoverFromTrash, Payload: types.RecoverFromTrashPayload{NodeIds: nodeIds, ToParentId: toParentId}})
}

func (a *MutationAPI) RemovePermanent(nodeIds []types.NodeId) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdRemovePermanent, Payload: types.RemovePermanentPayload{NodeIds: nodeIds}})
}

func (a *MutationAPI) ImportNodes(treeId types.TreeId, parentNodeId types.NodeId, subtree types.ExportedSubtree) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdImportNodes, Payload: types.ImportNodesPayload{TreeId: treeId, ParentNodeId: parentNodeId, Subtree: subtree}})
}

func (a *MutationAPI) ExportNodes(rootNodeId types.NodeId) *types.Result {
	return a.ExecuteCommand(&types.Command{Kind: types.CmdExportNodes, Payload: types.ExportNodesPayload{RootNodeId: rootNodeId}})
}

// ImportNodesYAML deserializes a yaml-encoded ExportedSubtree (the format
// exportNodes/copyNodes produce) and imports it. The yaml
// marshal/unmarshal step lives here, at the facade, rather than in
// pkg/command, so the pipeline stays free of a presentation-format
// dependency.
func (a *MutationAPI) ImportNodesYAML(treeId types.TreeId, parentNodeId types.NodeId, data []byte) *types.Result {
	var subtree types.ExportedSubtree
	if err := yaml.Unmarshal(data, &subtree); err != nil {
		return &types.Result{Success: false, Error: &types.CommandError{
			Kind: string(enginerr.InvalidPayload), Message: "malformed yaml subtree: " + err.Error(),
		}}
	}
	return a.ImportNodes(treeId, parentNodeId, subtree)
}

// ExportNodesYAML runs exportNodes and marshals the resulting subtree to
// yaml, the clipboard/file transport format this engine assumes.
func (a *MutationAPI) ExportNodesYAML(rootNodeId types.NodeId) ([]byte, *types.CommandError) {
	result := a.ExportNodes(rootNodeId)
	if !result.Success {
		return nil, result.Error
	}
	data, err := yaml.Marshal(result.Export)
	if err != nil {
		return nil, &types.CommandError{Kind: string(enginerr.Internal), Message: "failed to marshal exported subtree: " + err.Error()}
	}
	return data, nil
}

// Undo/Redo are not CommandKind values — they operate on the pipeline's
// per-tree journal directly rather than dispatching through kindDispatch,
// so they bypass ExecuteCommand's idempotency cache entirely; each call
// pops exactly one journal entry.
func (a *MutationAPI) Undo(treeId types.TreeId) *types.Result { return a.pipeline.Undo(treeId) }
func (a *MutationAPI) Redo(treeId types.TreeId) *types.Result { return a.pipeline.Redo(treeId) }

func nowMillis() types.Timestamp { return types.Timestamp(time.Now().UnixMilli()) }
