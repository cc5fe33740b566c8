// Package folder is the built-in reference plugin: a container nodeType
// with no domain payload of its own beyond a free-text description. It
// stands in for the basemap/stylemap/shape/project plugins that are out of
// scope here, exercising the contract any entity handler must satisfy,
// end-to-end.
package folder

import (
	"encoding/json"
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

const NodeType = "folder"

// Payload is folder's entity payload, marshaled in and out of
// types.Entity.Payload as JSON.
type Payload struct {
	Description string `json:"description"`
}

// Handler implements plugin.EntityHandler and plugin.LifecycleHooks for
// NodeType. It has no side-effect store of its own — CoreDB's
// entities_folder bucket, wired through tx, is the only state.
type Handler struct{}

var _ plugin.EntityHandler = (*Handler)(nil)
var _ plugin.LifecycleHooks = (*Handler)(nil)

func (h *Handler) CreateEntity(tx *storage.CoreTx, node *types.TreeNode, payload []byte) (*types.Entity, error) {
	p, err := decode(payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	now := types.Timestamp(time.Now().UnixMilli())
	entity := &types.Entity{
		EntityMeta: types.EntityMeta{
			Id:        types.NewEntityId(),
			NodeId:    node.Id,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
		Payload: data,
	}
	if err := tx.PutEntity(NodeType, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (h *Handler) GetEntity(tx *storage.CoreTx, nodeId types.NodeId) (*types.Entity, error) {
	return tx.GetEntityByNode(NodeType, nodeId)
}

func (h *Handler) UpdateEntity(tx *storage.CoreTx, nodeId types.NodeId, payload []byte) (*types.Entity, error) {
	existing, err := tx.GetEntityByNode(NodeType, nodeId)
	if err != nil {
		return nil, err
	}
	p, err := decode(payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	updated := existing.Clone()
	updated.Payload = data
	updated.UpdatedAt = types.Timestamp(time.Now().UnixMilli())
	updated.Version++
	if err := tx.PutEntity(NodeType, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (h *Handler) DeleteEntity(tx *storage.CoreTx, nodeId types.NodeId) error {
	return tx.DeleteEntity(NodeType, nodeId)
}

func (h *Handler) CreateWorkingCopy(entity *types.Entity) ([]byte, error) {
	// Identity mapping: folder's ephemeral draft shape is its persisted
	// payload shape, so round-tripping unmodified fields is trivially an
	// identity.
	out := make([]byte, len(entity.Payload))
	copy(out, entity.Payload)
	return out, nil
}

func (h *Handler) CommitWorkingCopy(tx *storage.CoreTx, nodeId types.NodeId, draftPayload []byte) (*types.Entity, error) {
	return h.UpdateEntity(tx, nodeId, draftPayload)
}

func (h *Handler) DiscardWorkingCopy(draftPayload []byte) error {
	return nil
}

func (h *Handler) AfterCreate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	return nil
}

func (h *Handler) BeforeUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	return nil
}

func (h *Handler) AfterUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	return nil
}

func (h *Handler) BeforeDelete(tx *storage.CoreTx, node *types.TreeNode) error {
	return nil
}

func (h *Handler) AfterDelete(tx *storage.CoreTx, node *types.TreeNode) error {
	return nil
}

func decode(payload []byte) (*Payload, error) {
	if len(payload) == 0 {
		return &Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, enginerr.Wrap(enginerr.InvalidPayload, err, "decode folder payload")
	}
	return &p, nil
}

// Definition is the registerable plugin.Definition for NodeType.
func Definition() *plugin.Definition {
	return &plugin.Definition{
		NodeType:      NodeType,
		Name:          "folder",
		DisplayName:   "Folder",
		Icon:          "folder",
		Version:       "1.0.0",
		Category:      "container",
		CreateOrder:   0,
		SchemaVersion: 1,
		MaxChildren:   0,
		Reversibility: plugin.Reversible,
		Flags:         plugin.LifecycleFlags{},
	}
}

// Plugin bundles Definition and Handler for a single Registry.Register call.
func Plugin() *plugin.Plugin {
	return &plugin.Plugin{Definition: Definition(), Handler: &Handler{}}
}
