package engine_test

import (
	"testing"

	"github.com/kubohiroya/hierarchidb/pkg/enginetest"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingCopyAPI_EditExisting_IsolatesUntilCommit(t *testing.T) {
	e, tr := enginetest.New(t)

	created := e.GetMutationAPI().CreateNode(tr.TreeId, tr.RootNodeId, "folder", "doc", []byte(`{"description":"before"}`), types.ConflictReject)
	require.True(t, created.Success, created.Error)
	nodeId := created.Ids[0]

	wc, err := e.GetWorkingCopyAPI().CreateWorkingCopy(nodeId, "session-1", false)
	require.NoError(t, err)

	got, err := e.GetWorkingCopyAPI().GetWorkingCopy(wc.WorkingCopyId)
	require.NoError(t, err)
	assert.Equal(t, wc.WorkingCopyId, got.WorkingCopyId)

	updated, err := e.GetWorkingCopyAPI().UpdateWorkingCopy(wc.WorkingCopyId, []byte(`{"description":"after"}`))
	require.NoError(t, err)
	assert.True(t, updated.IsDirty)

	beforeCommit, err := e.GetQueryAPI().GetNode(nodeId)
	require.NoError(t, err)
	assert.EqualValues(t, 1, beforeCommit.Version, "the node itself is untouched until commit")

	result := e.GetWorkingCopyAPI().CommitWorkingCopy(wc.WorkingCopyId, types.NewCommandId())
	require.True(t, result.Success, result.Error)

	_, err = e.GetWorkingCopyAPI().GetWorkingCopy(wc.WorkingCopyId)
	assert.Error(t, err, "working copy should be gone after commit")
}

func TestWorkingCopyAPI_CreateNewDraft_CommitsAsNewNode(t *testing.T) {
	e, tr := enginetest.New(t)

	draft, err := e.GetWorkingCopyAPI().CreateNewDraftWorkingCopy(tr.RootNodeId, "folder", "new-folder", "session-1")
	require.NoError(t, err)
	assert.True(t, draft.IsDraft())

	result := e.GetWorkingCopyAPI().CommitWorkingCopyForCreate(draft.WorkingCopyId, types.NewCommandId())
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Ids, 1)

	node, err := e.GetQueryAPI().GetNode(result.Ids[0])
	require.NoError(t, err)
	assert.Equal(t, "new-folder", node.Name)
}

func TestWorkingCopyAPI_SecondLiveCopyForSameSession_IsRejectedUnlessForced(t *testing.T) {
	e, tr := enginetest.New(t)
	created := e.GetMutationAPI().CreateNode(tr.TreeId, tr.RootNodeId, "folder", "doc", nil, types.ConflictReject)
	require.True(t, created.Success, created.Error)
	nodeId := created.Ids[0]

	_, err := e.GetWorkingCopyAPI().CreateWorkingCopy(nodeId, "session-1", false)
	require.NoError(t, err)

	_, err = e.GetWorkingCopyAPI().CreateWorkingCopy(nodeId, "session-1", false)
	require.Error(t, err)

	_, err = e.GetWorkingCopyAPI().CreateWorkingCopy(nodeId, "session-1", true)
	require.NoError(t, err, "force:true should discard the stale copy and proceed")
}

func TestWorkingCopyAPI_Discard_RemovesWithoutCommitting(t *testing.T) {
	e, tr := enginetest.New(t)
	created := e.GetMutationAPI().CreateNode(tr.TreeId, tr.RootNodeId, "folder", "doc", []byte(`{"description":"orig"}`), types.ConflictReject)
	require.True(t, created.Success, created.Error)
	nodeId := created.Ids[0]

	wc, err := e.GetWorkingCopyAPI().CreateWorkingCopy(nodeId, "session-1", false)
	require.NoError(t, err)
	_, err = e.GetWorkingCopyAPI().UpdateWorkingCopy(wc.WorkingCopyId, []byte(`{"description":"discarded"}`))
	require.NoError(t, err)

	require.NoError(t, e.GetWorkingCopyAPI().DiscardWorkingCopy(wc.WorkingCopyId))
	_, err = e.GetWorkingCopyAPI().GetWorkingCopy(wc.WorkingCopyId)
	assert.Error(t, err)
}
