package plugin

import (
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// LifecycleFlags declares which optional hooks a plugin implements, so the
// pipeline can skip calling methods a plugin doesn't support instead of
// requiring every handler to implement every hook as a no-op.
type LifecycleFlags struct {
	HasAfterCreate  bool
	HasBeforeUpdate bool
	HasAfterUpdate  bool
	HasBeforeDelete bool
	HasAfterDelete  bool
}

// Reversibility declares whether undo() may cross this plugin's hooks.
type Reversibility string

const (
	Reversible    Reversibility = "reversible"
	NonReversible Reversibility = "non-reversible"
)

// Definition is the static declaration a plugin registers with: metadata,
// schema version, and sync validation. UI component paths
// are deliberately untyped here — the core treats them as opaque strings it
// never dereferences.
type Definition struct {
	NodeType       string
	Name           string
	DisplayName    string
	Icon           string
	Version        string
	Category       string
	CreateOrder    int
	SchemaVersion  int
	NamePattern    string // empty means "no pattern restriction"
	MaxChildren    int    // 0 means unbounded
	TreeScope      []types.TreeId // empty means applicable to every tree ("*")
	Reversibility  Reversibility
	Flags          LifecycleFlags
	UIComponentPaths map[string]string
}

// AppliesToTree reports whether this plugin is usable in treeId.
func (d *Definition) AppliesToTree(treeId types.TreeId) bool {
	if len(d.TreeScope) == 0 {
		return true
	}
	for _, t := range d.TreeScope {
		if t == treeId {
			return true
		}
	}
	return false
}

// Validator is a plugin-registered synchronous, side-effect-free check run
// during the pipeline's validate stage, beyond the built-in name/cycle/
// sibling checks pkg/tree already enforces.
type Validator func(node *types.TreeNode, payload []byte) error

// EntityHandler is supplied at registration time and is the only thing in
// the engine allowed to interpret a nodeType's entity payload. Every method
// runs inside the storage transaction the pipeline already opened for the
// current command — handlers must not perform their own I/O.
type EntityHandler interface {
	CreateEntity(tx *storage.CoreTx, node *types.TreeNode, payload []byte) (*types.Entity, error)
	GetEntity(tx *storage.CoreTx, nodeId types.NodeId) (*types.Entity, error)
	UpdateEntity(tx *storage.CoreTx, nodeId types.NodeId, payload []byte) (*types.Entity, error)
	DeleteEntity(tx *storage.CoreTx, nodeId types.NodeId) error

	// CreateWorkingCopy maps a persisted entity into an ephemeral draft
	// payload. Round-tripping unmodified fields through CreateWorkingCopy
	// then CommitWorkingCopy must be an identity.
	CreateWorkingCopy(entity *types.Entity) ([]byte, error)
	CommitWorkingCopy(tx *storage.CoreTx, nodeId types.NodeId, draftPayload []byte) (*types.Entity, error)
	DiscardWorkingCopy(draftPayload []byte) error
}

// LifecycleHooks are the optional entity-handler methods gated by
// LifecycleFlags. A handler that also implements this interface has its
// applicable hooks invoked by the pipeline's Hook stage in nodeType-then-
// insertion-order.
type LifecycleHooks interface {
	AfterCreate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error
	BeforeUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error
	AfterUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error
	BeforeDelete(tx *storage.CoreTx, node *types.TreeNode) error
	AfterDelete(tx *storage.CoreTx, node *types.TreeNode) error
}

// Plugin bundles a Definition with its runtime handler and optional
// validators — the unit the registry actually stores. Extension is the
// plugin's opaque UI-facing API surface returned by getExtension; the core
// never calls into it.
type Plugin struct {
	Definition *Definition
	Handler    EntityHandler
	Validators []Validator
	Extension  any
}
