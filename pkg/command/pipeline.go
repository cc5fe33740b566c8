package command

import (
	"sync"
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/log"
	"github.com/kubohiroya/hierarchidb/pkg/metrics"
	"github.com/kubohiroya/hierarchidb/pkg/plugin"
	"github.com/kubohiroya/hierarchidb/pkg/storage"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	"github.com/rs/zerolog"
)

// EventSink receives committed change events for fan-out. pkg/subscription's
// Broker implements it; pkg/command depends only on this interface so the
// two packages don't import each other.
type EventSink interface {
	Publish(event types.ChangeEvent)
}

// Pipeline is the engine-scoped mutation pipeline. One instance is created
// by engine.Initialize and discarded by Shutdown — the
// same "no package-level mutable state" discipline pkg/plugin follows.
type Pipeline struct {
	core      *storage.CoreDB
	ephemeral *storage.EphemeralDB
	registry  *plugin.Registry
	sink      EventSink
	logger    zerolog.Logger

	mu       sync.Mutex // serializes command application, the pipeline's single-writer contract
	journals map[types.TreeId]*journal
}

func NewPipeline(core *storage.CoreDB, ephemeral *storage.EphemeralDB, registry *plugin.Registry, sink EventSink) *Pipeline {
	return &Pipeline{
		core:      core,
		ephemeral: ephemeral,
		registry:  registry,
		sink:      sink,
		logger:    log.WithComponent("command-pipeline"),
		journals:  make(map[types.TreeId]*journal),
	}
}

// kindImpl is the per-CommandKind implementation plugged into the pipeline's
// dispatch table (pipeline_kinds.go builds it).
type kindImpl struct {
	// validate runs in a read-only pass before any write; returning an error
	// here aborts the command with no storage or event side effects.
	validate func(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) error
	// apply runs inside the single read-write transaction for this command.
	// It performs plan+apply+pre-commit ("before*") hooks together, and
	// returns the node ids touched, the events to emit, and the inverse
	// command for the undo journal (nil if the command is not reversible or
	// opts out of journaling).
	apply func(p *Pipeline, tx *storage.CoreTx, cmd *types.Command) (ids []types.NodeId, events []types.ChangeEvent, inverse *types.Command, treeId types.TreeId, export *types.ExportedSubtree, err error)
	// postCommitHook runs in its own transaction after apply's transaction
	// has committed. A failure here surfaces as PartialFailure without
	// reverting the already-committed write.
	postCommitHook func(p *Pipeline, tx *storage.CoreTx, cmd *types.Command, ids []types.NodeId) error
	// journal controls whether a successful apply is pushed onto the undo
	// stack; some commands (exportNodes, copyNodes) have nothing to undo.
	journal bool
}

// Execute runs a command through every pipeline stage and returns its
// result. It never panics across this boundary: a recovered panic becomes
// an Internal error result instead.
func (p *Pipeline) Execute(cmd *types.Command) (result *types.Result) {
	timer := metrics.NewTimer()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("kind", string(cmd.Kind)).Msg("recovered panic in command pipeline")
			result = &types.Result{Success: false, Error: &types.CommandError{
				Kind:    string(enginerr.Internal),
				Message: "internal error",
			}}
		}
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		} else if result.Partial != nil {
			outcome = "partial"
		}
		metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), outcome).Inc()
		timer.ObserveDurationVec(metrics.CommandDuration, string(cmd.Kind))
	}()

	impl, ok := kindDispatch[cmd.Kind]
	if !ok {
		return errorResult(enginerr.Newf(enginerr.InvalidPayload, "unknown command kind %q", cmd.Kind))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Stage 1: validate.
	if err := p.core.View(func(tx *storage.CoreTx) error { return impl.validate(p, tx, cmd) }); err != nil {
		return errorResult(err)
	}

	// Stages 2-3 (and pre-commit hooks): plan + apply, atomically.
	var (
		ids     []types.NodeId
		events  []types.ChangeEvent
		inverse *types.Command
		treeId  types.TreeId
		export  *types.ExportedSubtree
	)
	err := p.core.Update(func(tx *storage.CoreTx) error {
		var err error
		ids, events, inverse, treeId, export, err = impl.apply(p, tx, cmd)
		return err
	})
	if err != nil {
		return errorResult(err)
	}

	result = &types.Result{Success: true, Ids: ids, Export: export}

	// Stage 4: post-commit ("after*") hooks.
	var partial *enginerr.Error
	if impl.postCommitHook != nil {
		hookErr := p.core.Update(func(tx *storage.CoreTx) error { return impl.postCommitHook(p, tx, cmd, ids) })
		if hookErr != nil {
			p.logger.Warn().Err(hookErr).Str("kind", string(cmd.Kind)).Msg("post-commit hook failed; storage write stands")
			var e *enginerr.Error
			if enginerr.AsError(hookErr, &e) {
				partial = e
			} else {
				partial = enginerr.Wrap(enginerr.HookFailed, hookErr, "post-commit hook failed")
			}
		}
	}

	// Stage 5: emit.
	for _, ev := range events {
		p.sink.Publish(ev)
		metrics.EventsEmittedTotal.WithLabelValues(string(ev.Type)).Inc()
	}

	// Stage 6: journal.
	if impl.journal && inverse != nil && treeId != "" {
		p.journalPush(treeId, cmd, inverse)
	}

	if partial != nil {
		result.Partial = &types.CommandError{Kind: string(partial.Kind), Message: partial.Message, Details: partial.Details}
	}
	return result
}

func errorResult(err error) *types.Result {
	var e *enginerr.Error
	if !enginerr.AsError(err, &e) {
		e = enginerr.Wrap(enginerr.Internal, err, "unclassified pipeline error")
	}
	return &types.Result{Success: false, Error: &types.CommandError{Kind: string(e.Kind), Message: e.Message, Details: e.Details}}
}

func nowMillis() types.Timestamp { return types.Timestamp(time.Now().UnixMilli()) }
