package tree

import (
	"path/filepath"
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCoreDB(t *testing.T) *storage.CoreDB {
	t.Helper()
	db, err := storage.OpenCoreDB(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedTree builds:
//
//	root
//	  folder-a (createdAt 1)
//	    doc-1 (createdAt 2)
//	    folder-b (createdAt 3)
//	      doc-2 (createdAt 4)
//	  folder-z (createdAt 5)
//	trash (sibling of root)
func seedTree(t *testing.T, db *storage.CoreDB) {
	t.Helper()
	nodes := []*types.TreeNode{
		{Id: "root", ParentId: "", Name: "", NodeType: "root", CreatedAt: 0},
		{Id: "trash", ParentId: "", Name: "", NodeType: "trash-root", CreatedAt: 0},
		{Id: "folder-a", ParentId: "root", Name: "Alpha", NodeType: "folder", CreatedAt: 1},
		{Id: "doc-1", ParentId: "folder-a", Name: "Notes", NodeType: "document", CreatedAt: 2},
		{Id: "folder-b", ParentId: "folder-a", Name: "Beta", NodeType: "folder", CreatedAt: 3},
		{Id: "doc-2", ParentId: "folder-b", Name: "Readme", NodeType: "document", CreatedAt: 4},
		{Id: "folder-z", ParentId: "root", Name: "Zulu", NodeType: "folder", CreatedAt: 5},
	}
	require.NoError(t, db.Update(func(tx *storage.CoreTx) error {
		for _, n := range nodes {
			if err := tx.PutNode(n); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestGetNode_MissingReturnsNilNotError(t *testing.T) {
	db := openTestCoreDB(t)
	var n *types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		n, err = GetNode(tx, "nope")
		return err
	}))
	assert.Nil(t, n)
}

func TestGetChildren_DefaultSortCreatedAtAsc(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	var children []*types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		children, err = GetChildren(tx, "root", types.ChildrenQuery{})
		return err
	}))
	require.Len(t, children, 2)
	assert.Equal(t, types.NodeId("folder-a"), children[0].Id)
	assert.Equal(t, types.NodeId("folder-z"), children[1].Id)
}

func TestGetChildren_MissingParentIsEmpty(t *testing.T) {
	db := openTestCoreDB(t)
	var children []*types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		children, err = GetChildren(tx, "ghost", types.ChildrenQuery{})
		return err
	}))
	assert.Empty(t, children)
}

func TestGetChildren_SortByNameDescWithLimitOffset(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	var children []*types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		children, err = GetChildren(tx, "root", types.ChildrenQuery{SortBy: types.SortByName, SortOrder: types.SortDesc, Limit: 1})
		return err
	}))
	require.Len(t, children, 1)
	assert.Equal(t, "Zulu", children[0].Name)
}

func TestGetDescendants_BFSExcludesRoot(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	var (
		out      []*types.TreeNode
		warnings []string
	)
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		out, warnings, err = GetDescendants(tx, "folder-a", types.DescendantsQuery{})
		return err
	}))
	assert.Empty(t, warnings)
	ids := make([]types.NodeId, 0, len(out))
	for _, n := range out {
		ids = append(ids, n.Id)
	}
	assert.ElementsMatch(t, []types.NodeId{"doc-1", "folder-b", "doc-2"}, ids)
}

func TestGetDescendants_MaxDepthBounds(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	var out []*types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		out, _, err = GetDescendants(tx, "folder-a", types.DescendantsQuery{MaxDepth: 1})
		return err
	}))
	ids := make([]types.NodeId, 0, len(out))
	for _, n := range out {
		ids = append(ids, n.Id)
	}
	assert.ElementsMatch(t, []types.NodeId{"doc-1", "folder-b"}, ids)
}

func TestGetDescendants_IncludeTypesFilter(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	var out []*types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		out, _, err = GetDescendants(tx, "folder-a", types.DescendantsQuery{IncludeTypes: []string{"document"}})
		return err
	}))
	ids := make([]types.NodeId, 0, len(out))
	for _, n := range out {
		ids = append(ids, n.Id)
	}
	assert.ElementsMatch(t, []types.NodeId{"doc-1", "doc-2"}, ids)
}

func TestGetAncestors_ChainToRootInclusive(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	var chain []*types.TreeNode
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		chain, _, err = GetAncestors(tx, "doc-2")
		return err
	}))
	ids := make([]types.NodeId, 0, len(chain))
	for _, n := range chain {
		ids = append(ids, n.Id)
	}
	assert.Equal(t, []types.NodeId{"doc-2", "folder-b", "folder-a", "root"}, ids)
}

func TestGetAncestors_CycleIsTruncatedWithWarning(t *testing.T) {
	db := openTestCoreDB(t)
	// a <-> b form a cycle, disconnected from any real root.
	require.NoError(t, db.Update(func(tx *storage.CoreTx) error {
		if err := tx.PutNode(&types.TreeNode{Id: "a", ParentId: "b", Name: "a", NodeType: "folder"}); err != nil {
			return err
		}
		return tx.PutNode(&types.TreeNode{Id: "b", ParentId: "a", Name: "b", NodeType: "folder"})
	}))

	var warnings []string
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		var err error
		_, warnings, err = GetAncestors(tx, "a")
		return err
	}))
	assert.NotEmpty(t, warnings)
}

func TestSearchNodes_Modes(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	cases := []struct {
		name  string
		query types.SearchQuery
		want  []types.NodeId
	}{
		{
			name:  "exact case-insensitive",
			query: types.SearchQuery{RootNodeId: "root", Query: "notes", Mode: types.SearchExact},
			want:  []types.NodeId{"doc-1"},
		},
		{
			name:  "partial",
			query: types.SearchQuery{RootNodeId: "root", Query: "e", Mode: types.SearchPartial},
			want:  []types.NodeId{"doc-1", "folder-b", "doc-2"},
		},
		{
			name:  "regex",
			query: types.SearchQuery{RootNodeId: "root", Query: "^Be.*$", Mode: types.SearchRegex, CaseSensitive: true},
			want:  []types.NodeId{"folder-b"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out []*types.TreeNode
			require.NoError(t, db.View(func(tx *storage.CoreTx) error {
				var err error
				out, err = SearchNodes(tx, tc.query)
				return err
			}))
			ids := make([]types.NodeId, 0, len(out))
			for _, n := range out {
				ids = append(ids, n.Id)
			}
			assert.ElementsMatch(t, tc.want, ids)
		})
	}
}

func TestSearchNodes_InvalidRegexSurfacesInvalidQuery(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	err := db.View(func(tx *storage.CoreTx) error {
		_, err := SearchNodes(tx, types.SearchQuery{RootNodeId: "root", Query: "(unterminated", Mode: types.SearchRegex})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, enginerr.InvalidQuery, enginerr.KindOf(err))
}

func TestCheckAcyclicMove_RejectsSelfAndDescendant(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		err := CheckAcyclicMove(tx, "folder-a", "folder-a")
		assert.Equal(t, enginerr.CycleDetected, enginerr.KindOf(err))
		return nil
	}))
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		err := CheckAcyclicMove(tx, "folder-a", "folder-b")
		assert.Equal(t, enginerr.CycleDetected, enginerr.KindOf(err))
		return nil
	}))
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		assert.NoError(t, CheckAcyclicMove(tx, "folder-a", "folder-z"))
		return nil
	}))
}

func TestInTrashSubtree(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)
	tr := &types.Tree{TreeId: "t1", RootNodeId: "root", TrashRootNodeId: "trash"}

	require.NoError(t, db.Update(func(tx *storage.CoreTx) error {
		return tx.PutNode(&types.TreeNode{Id: "trashed-doc", ParentId: "trash", Name: "gone", NodeType: "document", Removed: true})
	}))

	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		live, err := InTrashSubtree(tx, tr, "doc-1")
		assert.NoError(t, err)
		assert.False(t, live)
		return nil
	}))
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		trashed, err := InTrashSubtree(tx, tr, "trashed-doc")
		assert.NoError(t, err)
		assert.True(t, trashed)
		return nil
	}))
}

func TestFindSiblingConflict(t *testing.T) {
	db := openTestCoreDB(t)
	seedTree(t, db)

	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		id, ok, err := FindSiblingConflict(tx, "root", "Alpha")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, types.NodeId("folder-a"), id)
		return nil
	}))
	require.NoError(t, db.View(func(tx *storage.CoreTx) error {
		_, ok, err := FindSiblingConflict(tx, "root", "Nope")
		assert.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}
