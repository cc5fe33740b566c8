// Package command implements the transactional mutation pipeline: validate,
// plan, apply, hook, emit, journal, acknowledge. Every exported Command
// kind flows through Pipeline.Execute, which owns the single storage write
// lock for the process, the way a replicated state machine owns its single
// Apply(log) entrypoint — except there is no replicated log here, only a
// local, serialized command queue.
package command
