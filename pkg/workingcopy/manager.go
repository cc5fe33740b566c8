package workingcopy

import (
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/command"
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/log"
	"github.com/kubohiroya/hierarchidb/pkg/metrics"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/tree"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// defaultTTL is the working-copy lifetime: 24 hours from creation, after
// which pkg/sweep's TTL reaper is free to discard it.
const defaultTTL = 24 * time.Hour

// Manager is the engine-scoped working-copy lifecycle manager. It owns
// creation and discard directly against EphemeralDB/CoreDB, and hands the
// two commit variants off to the command pipeline so they get the
// pipeline's hook/event/journal treatment like any other mutation.
//
// Working copies behave like a TTL-bearing ephemeral token: minted by one
// call and redeemed (or expired) by another, with an in-memory map
// enforcing "at most one live working copy per (nodeId, sessionId)".
type Manager struct {
	core      *storage.CoreDB
	ephemeral *storage.EphemeralDB
	registry  *plugin.Registry
	pipeline  *command.Pipeline
	logger    zerolog.Logger

	// idempotency caches commitWorkingCopy/commitWorkingCopyForCreate
	// results by the CommandId the caller supplied, so a retried RPC after
	// a dropped response re-delivers the original result instead of
	// re-committing; commits must be idempotent by commandId.
	idempotency *xsync.Map[types.CommandId, *types.Result]
}

func NewManager(core *storage.CoreDB, ephemeral *storage.EphemeralDB, registry *plugin.Registry, pipeline *command.Pipeline) *Manager {
	return &Manager{
		core:        core,
		ephemeral:   ephemeral,
		registry:    registry,
		pipeline:    pipeline,
		logger:      log.WithComponent("working-copy"),
		idempotency: xsync.NewMap[types.CommandId, *types.Result](),
	}
}

// CreateWorkingCopy opens an editable draft of an existing node's entity
// for sessionId. If sessionId already holds a live working copy of nodeId
// the call is rejected with WorkingCopyExists unless force is set, in which
// case every existing copy of nodeId, whatever its session, is discarded
// first.
func (m *Manager) CreateWorkingCopy(nodeId types.NodeId, sessionId string, force bool) (*types.WorkingCopy, error) {
	if err := m.enforceOneLivePerSession(nodeId, sessionId, force); err != nil {
		return nil, err
	}

	var node *types.TreeNode
	var entity *types.Entity
	err := m.core.View(func(tx *storage.CoreTx) error {
		var err error
		node, err = tree.GetNode(tx, nodeId)
		if err != nil {
			return err
		}
		if node == nil {
			return enginerr.Newf(enginerr.UnknownNode, "node %s not found", nodeId)
		}
		handler, err := m.registry.GetHandler(node.NodeType)
		if err != nil {
			return err
		}
		entity, err = handler.GetEntity(tx, nodeId)
		return err
	})
	if err != nil {
		return nil, err
	}

	handler, err := m.registry.GetHandler(node.NodeType)
	if err != nil {
		return nil, err
	}
	draftPayload, err := handler.CreateWorkingCopy(entity)
	if err != nil {
		return nil, err
	}

	now := nowMillis()
	wc := &types.WorkingCopy{
		WorkingCopyId: types.NewWorkingCopyId(),
		WorkingCopyOf: nodeId,
		NodeType:      node.NodeType,
		Name:          node.Name,
		Payload:       draftPayload,
		CopiedAt:      now,
		ExpiresAt:     now + types.Timestamp(defaultTTL.Milliseconds()),
		SessionId:     sessionId,
	}
	if err := m.ephemeral.Update(func(tx *storage.EphemeralTx) error { return tx.PutWorkingCopy(wc) }); err != nil {
		return nil, err
	}
	metrics.WorkingCopiesOutstanding.Inc()
	m.logger.Debug().Str("workingCopyId", string(wc.WorkingCopyId)).Str("nodeId", string(nodeId)).Msg("working copy created")
	return wc, nil
}

// CreateDraftWorkingCopy opens a not-yet-bound draft for the create-new
// flow: there is no existing node, only a prospective parent and nodeType.
func (m *Manager) CreateDraftWorkingCopy(parentId types.NodeId, nodeType, name, sessionId string) (*types.WorkingCopy, error) {
	if _, err := m.registry.GetHandler(nodeType); err != nil {
		return nil, err
	}
	err := m.core.View(func(tx *storage.CoreTx) error {
		parent, err := tree.GetNode(tx, parentId)
		if err != nil {
			return err
		}
		if parent == nil {
			return enginerr.Newf(enginerr.UnknownNode, "parent %s not found", parentId)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := nowMillis()
	wc := &types.WorkingCopy{
		WorkingCopyId: types.NewWorkingCopyId(),
		ParentId:      parentId,
		NodeType:      nodeType,
		Name:          name,
		Payload:       []byte("{}"),
		CopiedAt:      now,
		ExpiresAt:     now + types.Timestamp(defaultTTL.Milliseconds()),
		SessionId:     sessionId,
	}
	if err := m.ephemeral.Update(func(tx *storage.EphemeralTx) error { return tx.PutWorkingCopy(wc) }); err != nil {
		return nil, err
	}
	metrics.WorkingCopiesOutstanding.Inc()
	m.logger.Debug().Str("workingCopyId", string(wc.WorkingCopyId)).Str("parentId", string(parentId)).Msg("draft working copy created")
	return wc, nil
}

// GetWorkingCopy returns the current state of a live working copy, for the
// "get" half of the WorkingCopy API's "create/get/update/commit/discard"
// surface.
func (m *Manager) GetWorkingCopy(id types.WorkingCopyId) (*types.WorkingCopy, error) {
	var wc *types.WorkingCopy
	err := m.ephemeral.View(func(tx *storage.EphemeralTx) error {
		var err error
		wc, err = tx.GetWorkingCopy(id)
		return err
	})
	return wc, err
}

// UpdateWorkingCopy overwrites a draft's payload in place — the "update"
// half of the WorkingCopy API surface the UI calls repeatedly while the
// user edits, well before commitWorkingCopy lands the result.
func (m *Manager) UpdateWorkingCopy(id types.WorkingCopyId, payload []byte) (*types.WorkingCopy, error) {
	var wc *types.WorkingCopy
	err := m.ephemeral.Update(func(tx *storage.EphemeralTx) error {
		existing, err := tx.GetWorkingCopy(id)
		if err != nil {
			return err
		}
		wc = existing.Clone()
		wc.Payload = payload
		wc.IsDirty = true
		return tx.PutWorkingCopy(wc)
	})
	return wc, err
}

// DiscardWorkingCopy abandons a working copy without committing it. For an
// edit-existing copy the handler's DiscardWorkingCopy is given a chance to
// release any resources the draft payload holds; a
// create-new draft has nothing persisted to clean up beyond the row itself.
func (m *Manager) DiscardWorkingCopy(id types.WorkingCopyId) error {
	var wc *types.WorkingCopy
	if err := m.ephemeral.View(func(tx *storage.EphemeralTx) error {
		var err error
		wc, err = tx.GetWorkingCopy(id)
		return err
	}); err != nil {
		return err
	}

	if !wc.IsDraft() {
		if handler, err := m.registry.GetHandler(wc.NodeType); err == nil {
			if err := handler.DiscardWorkingCopy(wc.Payload); err != nil {
				return err
			}
		}
	}

	if err := m.ephemeral.Update(func(tx *storage.EphemeralTx) error { return tx.DeleteWorkingCopy(id) }); err != nil {
		return err
	}
	metrics.WorkingCopiesOutstanding.Dec()
	m.logger.Debug().Str("workingCopyId", string(id)).Msg("working copy discarded")
	return nil
}

// CommitWorkingCopy applies wc's draft payload to its node through the
// command pipeline, so the commit gets the usual hook/event treatment.
// Idempotent by commandId: a retried commit with the same CommandId
// returns the cached result instead of re-running the write.
func (m *Manager) CommitWorkingCopy(workingCopyId types.WorkingCopyId, commandId types.CommandId) *types.Result {
	if cached, ok := m.idempotency.Load(commandId); ok {
		return cached
	}
	result := m.pipeline.Execute(&types.Command{
		CommandId: commandId, Kind: types.CmdCommitWorkingCopy,
		Payload: types.CommitWorkingCopyPayload{WorkingCopyId: workingCopyId}, IssuedAt: nowMillis(),
	})
	m.idempotency.Store(commandId, result)
	if result.Success {
		metrics.WorkingCopiesOutstanding.Dec()
	}
	return result
}

// CommitWorkingCopyForCreate is CommitWorkingCopy's create-new twin.
func (m *Manager) CommitWorkingCopyForCreate(workingCopyId types.WorkingCopyId, commandId types.CommandId) *types.Result {
	if cached, ok := m.idempotency.Load(commandId); ok {
		return cached
	}
	result := m.pipeline.Execute(&types.Command{
		CommandId: commandId, Kind: types.CmdCommitWorkingCopyForCreate,
		Payload: types.CommitWorkingCopyForCreatePayload{WorkingCopyId: workingCopyId}, IssuedAt: nowMillis(),
	})
	m.idempotency.Store(commandId, result)
	if result.Success {
		metrics.WorkingCopiesOutstanding.Dec()
	}
	return result
}

// enforceOneLivePerSession enforces the ownership rule: at most one live
// working copy of a given node per session. force:true discards any
// existing copies for this node (regardless of owning session) instead of
// rejecting.
func (m *Manager) enforceOneLivePerSession(nodeId types.NodeId, sessionId string, force bool) error {
	var existingIds []types.WorkingCopyId
	if err := m.ephemeral.View(func(tx *storage.EphemeralTx) error {
		var err error
		existingIds, err = tx.FindWorkingCopiesOf(nodeId)
		return err
	}); err != nil {
		return err
	}
	if len(existingIds) == 0 {
		return nil
	}

	if !force {
		var conflict *types.WorkingCopy
		if err := m.ephemeral.View(func(tx *storage.EphemeralTx) error {
			for _, id := range existingIds {
				wc, err := tx.GetWorkingCopy(id)
				if err != nil {
					return err
				}
				if wc.SessionId == sessionId {
					conflict = wc
					return nil
				}
			}
			return nil
		}); err != nil {
			return err
		}
		if conflict != nil {
			return enginerr.Newf(enginerr.WorkingCopyExists, "session %q already has a live working copy of node %s", sessionId, nodeId)
		}
		return nil
	}

	return m.ephemeral.Update(func(tx *storage.EphemeralTx) error {
		for _, id := range existingIds {
			if err := tx.DeleteWorkingCopy(id); err != nil {
				return err
			}
			metrics.WorkingCopiesOutstanding.Dec()
		}
		return nil
	})
}

func nowMillis() types.Timestamp { return types.Timestamp(time.Now().UnixMilli()) }
