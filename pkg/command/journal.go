package command

import (
	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/metrics"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
)

// journalBound is the per-tree undo stack depth, bounded to 100 entries.
const journalBound = 100

// entry pairs an applied command with the inverse that undoes it, so redo
// can re-apply the original without re-deriving it.
type entry struct {
	forward *types.Command
	inverse *types.Command
}

// journal is a tree-scoped undo/redo stack. Pushing a new entry clears the
// redo stack.
type journal struct {
	undo []entry
	redo []entry
}

func (p *Pipeline) journalFor(treeId types.TreeId) *journal {
	j, ok := p.journals[treeId]
	if !ok {
		j = &journal{}
		p.journals[treeId] = j
	}
	return j
}

func (p *Pipeline) journalPush(treeId types.TreeId, forward, inverse *types.Command) {
	j := p.journalFor(treeId)
	j.undo = append(j.undo, entry{forward: forward, inverse: inverse})
	if len(j.undo) > journalBound {
		j.undo = j.undo[len(j.undo)-journalBound:]
	}
	j.redo = nil
	metrics.UndoStackDepth.WithLabelValues(string(treeId)).Set(float64(len(j.undo)))
}

// Undo pops the most recent undo entry for treeId, applies its inverse
// through stages 3-5 (no re-journal of the forward command), and pushes the
// original forward command onto the redo stack.
func (p *Pipeline) Undo(treeId types.TreeId) *types.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	j := p.journalFor(treeId)
	if len(j.undo) == 0 {
		return errorResult(enginerr.New(enginerr.UndoUnavailable, "undo stack is empty for this tree"))
	}
	e := j.undo[len(j.undo)-1]

	result, _ := p.applyWithoutJournal(e.inverse)
	if !result.Success {
		return result
	}
	j.undo = j.undo[:len(j.undo)-1]
	j.redo = append(j.redo, entry{forward: e.inverse, inverse: e.forward})
	metrics.UndoStackDepth.WithLabelValues(string(treeId)).Set(float64(len(j.undo)))
	return result
}

// Redo is symmetric to Undo.
func (p *Pipeline) Redo(treeId types.TreeId) *types.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	j := p.journalFor(treeId)
	if len(j.redo) == 0 {
		return errorResult(enginerr.New(enginerr.RedoUnavailable, "redo stack is empty for this tree"))
	}
	e := j.redo[len(j.redo)-1]

	result, _ := p.applyWithoutJournal(e.inverse)
	if !result.Success {
		return result
	}
	j.redo = j.redo[:len(j.redo)-1]
	j.undo = append(j.undo, entry{forward: e.inverse, inverse: e.forward})
	metrics.UndoStackDepth.WithLabelValues(string(treeId)).Set(float64(len(j.undo)))
	return result
}

// applyWithoutJournal runs a command's apply+postCommitHook+emit stages
// without touching the journal — used by Undo/Redo, which manage the stack
// themselves, running through apply/postCommitHook/emit with no re-journal.
// Caller must already hold p.mu.
func (p *Pipeline) applyWithoutJournal(cmd *types.Command) (*types.Result, bool) {
	impl, ok := kindDispatch[cmd.Kind]
	if !ok {
		return errorResult(enginerr.Newf(enginerr.InvalidPayload, "unknown command kind %q", cmd.Kind)), false
	}
	if !p.registry.IsReversible(reversibilityNodeType(cmd)) {
		return errorResult(enginerr.New(enginerr.NonReversible, "this command's plugin declared its hooks non-reversible")), false
	}

	var (
		ids    []types.NodeId
		events []types.ChangeEvent
		err    error
	)
	err = p.core.Update(func(tx *storage.CoreTx) error {
		var innerErr error
		ids, events, _, _, _, innerErr = impl.apply(p, tx, cmd)
		return innerErr
	})
	if err != nil {
		return errorResult(err), false
	}

	if impl.postCommitHook != nil {
		_ = p.core.Update(func(tx *storage.CoreTx) error { return impl.postCommitHook(p, tx, cmd, ids) })
	}
	for _, ev := range events {
		p.sink.Publish(ev)
	}
	return &types.Result{Success: true, Ids: ids}, true
}

// reversibilityNodeType best-effort extracts the nodeType an undo/redo
// command is scoped to, for plugin-reversibility checks. Structural
// commands with no single nodeType (e.g. moveNodes across mixed types) are
// always considered reversible at this layer; per-node irreversibility
// would need a richer payload than this command set carries.
func reversibilityNodeType(cmd *types.Command) string {
	if p, ok := cmd.Payload.(types.CreateNodePayload); ok {
		return p.NodeType
	}
	return ""
}
