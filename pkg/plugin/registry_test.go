package plugin

import (
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefinition(nodeType string, createOrder int, scope ...types.TreeId) *Definition {
	return &Definition{NodeType: nodeType, CreateOrder: createOrder, TreeScope: scope, Reversibility: Reversible}
}

func TestRegistry_RegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("folder", 0)}))

	err := r.Register(&Plugin{Definition: newDefinition("folder", 1)})
	require.Error(t, err)
	assert.Equal(t, enginerr.InvalidPayload, enginerr.KindOf(err))
}

func TestRegistry_GetHandler_UnknownNodeType(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetHandler("ghost")
	require.Error(t, err)
	assert.Equal(t, enginerr.UnknownNodeType, enginerr.KindOf(err))
}

func TestRegistry_DispatchOrder_ByCreateOrderThenNodeType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("zeta", 1)}))
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("alpha", 1)}))
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("beta", 0)}))

	plugins := r.GetPluginsForTree("*")
	require.Len(t, plugins, 3)
	assert.Equal(t, "beta", plugins[0].Definition.NodeType)
	assert.Equal(t, "alpha", plugins[1].Definition.NodeType)
	assert.Equal(t, "zeta", plugins[2].Definition.NodeType)
}

func TestRegistry_GetPluginsForTree_ScopeFiltering(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("global", 0)}))
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("scoped", 0, "tree-a")}))

	forTreeA := r.GetPluginsForTree("tree-a")
	assert.Len(t, forTreeA, 2)

	forTreeB := r.GetPluginsForTree("tree-b")
	require.Len(t, forTreeB, 1)
	assert.Equal(t, "global", forTreeB[0].Definition.NodeType)
}

func TestRegistry_IsReversible(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Plugin{Definition: &Definition{NodeType: "folder", Reversibility: NonReversible}}))

	assert.False(t, r.IsReversible("folder"))
	assert.True(t, r.IsReversible("unregistered-type"))
}

func TestRegistry_Validate_RunsRegisteredValidators(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register(&Plugin{
		Definition: newDefinition("folder", 0),
		Validators: []Validator{func(node *types.TreeNode, payload []byte) error {
			called = true
			return enginerr.New(enginerr.InvalidName, "boom")
		}},
	}))

	err := r.Validate("folder", &types.TreeNode{}, nil)
	require.Error(t, err)
	assert.True(t, called)
	assert.Equal(t, enginerr.InvalidName, enginerr.KindOf(err))
}

func TestRegistry_GetExtension(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Plugin{Definition: newDefinition("folder", 0), Extension: "ui-surface"}))

	ext, err := r.GetExtension("folder")
	require.NoError(t, err)
	assert.Equal(t, "ui-surface", ext)
}
