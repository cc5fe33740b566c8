package engine

import (
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// PluginRegistryAPI is the plugin sub-API, acquired through
// Engine.GetPluginRegistryAPI. Registration itself happens once, during
// Initialize, from Config.Plugins — this sub-API only exposes the read side
// a running engine needs (definition/handler/extension lookup, tree-scoped
// plugin listing); re-registering plugins against a live engine is out of
// scope.
type PluginRegistryAPI struct {
	registry *plugin.Registry
}

func (p *PluginRegistryAPI) GetDefinition(nodeType string) (*plugin.Definition, error) {
	return p.registry.GetDefinition(nodeType)
}

func (p *PluginRegistryAPI) GetHandler(nodeType string) (plugin.EntityHandler, error) {
	return p.registry.GetHandler(nodeType)
}

func (p *PluginRegistryAPI) GetExtension(nodeType string) (any, error) {
	return p.registry.GetExtension(nodeType)
}

func (p *PluginRegistryAPI) GetPluginsForTree(treeId types.TreeId) []*plugin.Plugin {
	return p.registry.GetPluginsForTree(treeId)
}

func (p *PluginRegistryAPI) IsReversible(nodeType string) bool {
	return p.registry.IsReversible(nodeType)
}
