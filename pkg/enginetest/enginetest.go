// Package enginetest boots a full engine.Engine against a t.TempDir()-backed
// pair of bbolt files, for tests that want to exercise the RPC facade
// end-to-end rather than a single package in isolation.
package enginetest

import (
	"path/filepath"
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/engine"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/plugin/folder"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/require"
)

// New starts an Engine with the folder plugin registered against fresh
// temp-file stores, plus a single bootstrapped tree named "default". It
// registers the engine's teardown with t.Cleanup.
func New(t *testing.T, extraPlugins ...*plugin.Plugin) (*engine.Engine, *types.Tree) {
	t.Helper()
	dir := t.TempDir()
	e, err := engine.Initialize(engine.Config{
		CoreDBPath:      filepath.Join(dir, "core.db"),
		EphemeralDBPath: filepath.Join(dir, "ephemeral.db"),
		Plugins:         append([]*plugin.Plugin{folder.Plugin()}, extraPlugins...),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })

	tr, err := e.CreateTree("default")
	require.NoError(t, err)
	return e, tr
}
