package plugin

import (
	"sort"
	"sync"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/puzpuzpuz/xsync/v4"
)

// Registry is the engine-scoped plugin registry — one instance lives on
// the engine, created by initialize() and discarded by shutdown(), never a
// package-level singleton.
//
// Lookup by nodeType is lock-free-read via xsync.Map; the insertion-order
// bookkeeping needed for deterministic dispatch is a small enough critical
// section that a plain mutex-guarded slice is simpler than making the
// ordering itself lock-free.
type Registry struct {
	mu      sync.Mutex
	order   []string // nodeType, in (createOrder, nodeType) dispatch order
	plugins *xsync.Map[string, *Plugin]
}

func NewRegistry() *Registry {
	return &Registry{plugins: xsync.NewMap[string, *Plugin]()}
}

// Register adds a plugin. Duplicate nodeType registration is rejected.
func (r *Registry) Register(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins.Load(p.Definition.NodeType); ok {
		return enginerr.Newf(enginerr.InvalidPayload, "plugin %q already registered", p.Definition.NodeType)
	}
	r.plugins.Store(p.Definition.NodeType, p)
	r.order = append(r.order, p.Definition.NodeType)
	sort.SliceStable(r.order, func(i, j int) bool {
		a, _ := r.plugins.Load(r.order[i])
		b, _ := r.plugins.Load(r.order[j])
		if a.Definition.CreateOrder != b.Definition.CreateOrder {
			return a.Definition.CreateOrder < b.Definition.CreateOrder
		}
		return r.order[i] < r.order[j]
	})
	return nil
}

// GetHandler returns nodeType's entity handler, or UnknownNodeType.
func (r *Registry) GetHandler(nodeType string) (EntityHandler, error) {
	p, ok := r.plugins.Load(nodeType)
	if !ok {
		return nil, enginerr.Newf(enginerr.UnknownNodeType, "no plugin registered for nodeType %q", nodeType)
	}
	return p.Handler, nil
}

// GetDefinition returns nodeType's definition, or UnknownNodeType.
func (r *Registry) GetDefinition(nodeType string) (*Definition, error) {
	p, ok := r.plugins.Load(nodeType)
	if !ok {
		return nil, enginerr.Newf(enginerr.UnknownNodeType, "no plugin registered for nodeType %q", nodeType)
	}
	return p.Definition, nil
}

// GetExtension returns nodeType's opaque UI extension surface.
func (r *Registry) GetExtension(nodeType string) (any, error) {
	p, ok := r.plugins.Load(nodeType)
	if !ok {
		return nil, enginerr.Newf(enginerr.UnknownNodeType, "no plugin registered for nodeType %q", nodeType)
	}
	return p.Extension, nil
}

// GetPluginsForTree returns every plugin applicable to treeId, in
// deterministic (createOrder, nodeType) dispatch order. Pass "*" for every
// registered plugin regardless of tree scope.
func (r *Registry) GetPluginsForTree(treeId types.TreeId) []*Plugin {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	out := make([]*Plugin, 0, len(order))
	for _, nt := range order {
		p, ok := r.plugins.Load(nt)
		if !ok {
			continue
		}
		if treeId == "*" || p.Definition.AppliesToTree(treeId) {
			out = append(out, p)
		}
	}
	return out
}

// Validate runs nodeType's registered validators against node/payload,
// returning the first failure.
func (r *Registry) Validate(nodeType string, node *types.TreeNode, payload []byte) error {
	p, ok := r.plugins.Load(nodeType)
	if !ok {
		return enginerr.Newf(enginerr.UnknownNodeType, "no plugin registered for nodeType %q", nodeType)
	}
	for _, v := range p.Validators {
		if err := v(node, payload); err != nil {
			return err
		}
	}
	return nil
}

// RunHooks invokes the applicable lifecycle hooks across every registered
// plugin matching node.NodeType, in dispatch order, inside tx. Only
// nodeType's own plugin ever has hooks for that node; dispatch order is
// "by nodeType, then by insertion order" to leave room for multiple
// handlers per nodeType in a future extension. Today's registry enforces
// one handler per nodeType, so this degenerates to "invoke if present."
func (r *Registry) runHook(nodeType string, fn func(LifecycleHooks) error) error {
	p, ok := r.plugins.Load(nodeType)
	if !ok {
		return nil
	}
	hooks, ok := p.Handler.(LifecycleHooks)
	if !ok {
		return nil
	}
	return fn(hooks)
}

func (r *Registry) AfterCreate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	p, ok := r.plugins.Load(node.NodeType)
	if !ok || !p.Definition.Flags.HasAfterCreate {
		return nil
	}
	return r.runHook(node.NodeType, func(h LifecycleHooks) error { return h.AfterCreate(tx, node, entity) })
}

func (r *Registry) BeforeUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	p, ok := r.plugins.Load(node.NodeType)
	if !ok || !p.Definition.Flags.HasBeforeUpdate {
		return nil
	}
	return r.runHook(node.NodeType, func(h LifecycleHooks) error { return h.BeforeUpdate(tx, node, entity) })
}

func (r *Registry) AfterUpdate(tx *storage.CoreTx, node *types.TreeNode, entity *types.Entity) error {
	p, ok := r.plugins.Load(node.NodeType)
	if !ok || !p.Definition.Flags.HasAfterUpdate {
		return nil
	}
	return r.runHook(node.NodeType, func(h LifecycleHooks) error { return h.AfterUpdate(tx, node, entity) })
}

func (r *Registry) BeforeDelete(tx *storage.CoreTx, node *types.TreeNode) error {
	p, ok := r.plugins.Load(node.NodeType)
	if !ok || !p.Definition.Flags.HasBeforeDelete {
		return nil
	}
	return r.runHook(node.NodeType, func(h LifecycleHooks) error { return h.BeforeDelete(tx, node) })
}

func (r *Registry) AfterDelete(tx *storage.CoreTx, node *types.TreeNode) error {
	p, ok := r.plugins.Load(node.NodeType)
	if !ok || !p.Definition.Flags.HasAfterDelete {
		return nil
	}
	return r.runHook(node.NodeType, func(h LifecycleHooks) error { return h.AfterDelete(tx, node) })
}

// IsReversible reports whether nodeType's plugin permits undo across its
// hooks; undo crossing a non-reversible hook is refused.
func (r *Registry) IsReversible(nodeType string) bool {
	p, ok := r.plugins.Load(nodeType)
	if !ok {
		return true // no plugin bound to this nodeType: nothing to refuse on
	}
	return p.Definition.Reversibility != NonReversible
}
