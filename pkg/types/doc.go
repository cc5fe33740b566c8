// Package types holds the data model shared by every layer of the tree
// engine: identifiers, the persisted tree/entity/working-copy records, the
// event and command envelopes, and subscription bookkeeping. Nothing in this
// package touches storage, the pipeline, or the RPC boundary — it is pure
// data so that storage, command, workingcopy, subscription, and engine can
// all import it without cycles.
package types
