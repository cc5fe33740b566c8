package types

import "github.com/google/uuid"

// TreeId identifies a tree within the engine process.
type TreeId string

// NodeId identifies a TreeNode, unique within the process.
type NodeId string

// EntityId identifies a plugin entity, one-to-one with a NodeId.
type EntityId string

// WorkingCopyId identifies an in-flight two-phase edit.
type WorkingCopyId string

// SubscriptionId identifies a standing observer registration.
type SubscriptionId string

// CommandId identifies a single mutation request; retries reuse the same id
// so the pipeline can detect and no-op a duplicate commit.
type CommandId string

// GroupId ties a batch of commands into a single undo unit.
type GroupId string

// Timestamp is milliseconds since the Unix epoch.
type Timestamp int64

// NewNodeId mints a fresh opaque node identifier.
func NewNodeId() NodeId { return NodeId(uuid.NewString()) }

// NewEntityId mints a fresh opaque entity identifier.
func NewEntityId() EntityId { return EntityId(uuid.NewString()) }

// NewWorkingCopyId mints a fresh opaque working-copy identifier.
func NewWorkingCopyId() WorkingCopyId { return WorkingCopyId(uuid.NewString()) }

// NewSubscriptionId mints a fresh opaque subscription identifier.
func NewSubscriptionId() SubscriptionId { return SubscriptionId(uuid.NewString()) }

// NewCommandId mints a fresh opaque command identifier for callers that
// don't supply their own (idempotency then degrades to "always fresh").
func NewCommandId() CommandId { return CommandId(uuid.NewString()) }

// NewTreeId mints a fresh opaque tree identifier.
func NewTreeId() TreeId { return TreeId(uuid.NewString()) }
