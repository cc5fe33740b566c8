package engine

import (
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/kubohiroya/hierarchidb/pkg/workingcopy"
)

// WorkingCopyAPI is the create/get/update/commit/discard sub-API for
// two-phase edits, acquired through Engine.GetWorkingCopyAPI. It is a thin
// pass-through to pkg/workingcopy.Manager; the engine facade contributes
// nothing of its own here beyond the accessor.
type WorkingCopyAPI struct {
	manager *workingcopy.Manager
}

// CreateWorkingCopy opens an editable draft of an existing node.
func (w *WorkingCopyAPI) CreateWorkingCopy(nodeId types.NodeId, sessionId string, force bool) (*types.WorkingCopy, error) {
	return w.manager.CreateWorkingCopy(nodeId, sessionId, force)
}

// CreateNewDraftWorkingCopy opens a draft for the create-new-node flow,
// as distinct from editing an existing node.
func (w *WorkingCopyAPI) CreateNewDraftWorkingCopy(parentId types.NodeId, nodeType, name, sessionId string) (*types.WorkingCopy, error) {
	return w.manager.CreateDraftWorkingCopy(parentId, nodeType, name, sessionId)
}

func (w *WorkingCopyAPI) GetWorkingCopy(id types.WorkingCopyId) (*types.WorkingCopy, error) {
	return w.manager.GetWorkingCopy(id)
}

func (w *WorkingCopyAPI) UpdateWorkingCopy(id types.WorkingCopyId, payload []byte) (*types.WorkingCopy, error) {
	return w.manager.UpdateWorkingCopy(id, payload)
}

func (w *WorkingCopyAPI) CommitWorkingCopy(workingCopyId types.WorkingCopyId, commandId types.CommandId) *types.Result {
	return w.manager.CommitWorkingCopy(workingCopyId, commandId)
}

func (w *WorkingCopyAPI) CommitWorkingCopyForCreate(workingCopyId types.WorkingCopyId, commandId types.CommandId) *types.Result {
	return w.manager.CommitWorkingCopyForCreate(workingCopyId, commandId)
}

func (w *WorkingCopyAPI) DiscardWorkingCopy(id types.WorkingCopyId) error {
	return w.manager.DiscardWorkingCopy(id)
}
