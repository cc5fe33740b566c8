package types

// CommandKind enumerates the exhaustive set of mutation commands the
// pipeline accepts.
type CommandKind string

const (
	CmdCreateNode                  CommandKind = "createNode"
	CmdUpdateNode                  CommandKind = "updateNode"
	CmdMoveNodes                   CommandKind = "moveNodes"
	CmdDuplicateNodes              CommandKind = "duplicateNodes"
	CmdCopyNodes                   CommandKind = "copyNodes"
	CmdPasteNodes                  CommandKind = "pasteNodes"
	CmdMoveToTrash                 CommandKind = "moveToTrash"
	CmdRecoverFromTrash            CommandKind = "recoverFromTrash"
	CmdRemovePermanent             CommandKind = "removePermanent"
	CmdImportNodes                 CommandKind = "importNodes"
	CmdExportNodes                 CommandKind = "exportNodes"
	CmdCommitWorkingCopy           CommandKind = "commitWorkingCopy"
	CmdCommitWorkingCopyForCreate  CommandKind = "commitWorkingCopyForCreate"
)

// Command is the envelope every mutation travels in.
type Command struct {
	CommandId      CommandId
	GroupId        GroupId
	Kind           CommandKind
	Payload        any
	IssuedAt       Timestamp
	SourceViewId   string
	OnNameConflict NameConflictPolicy
}

// --- Per-kind payloads ---

type CreateNodePayload struct {
	TreeId           TreeId
	ParentId         NodeId
	NodeType         string
	Name             string
	InitialEntityData []byte
}

type UpdateNodePayload struct {
	NodeId NodeId
	Name   *string
}

type MoveNodesPayload struct {
	NodeIds        []NodeId
	TargetParentId NodeId
	Position       *int
}

type DuplicateNodesPayload struct {
	NodeIds        []NodeId
	TargetParentId NodeId
}

// CopyNodesPayload serializes nodeIds (and their descendants) to an
// ExportedSubtree for clipboard transport; it performs no mutation itself.
type CopyNodesPayload struct {
	NodeIds []NodeId
}

// PasteNodesPayload deserializes a previously copied subtree under a new
// parent, generating fresh ids.
type PasteNodesPayload struct {
	TargetParentId NodeId
	Subtree        ExportedSubtree
}

type MoveToTrashPayload struct {
	NodeIds []NodeId
}

type RecoverFromTrashPayload struct {
	NodeIds  []NodeId
	ToParentId NodeId
}

type RemovePermanentPayload struct {
	NodeIds []NodeId
}

type ImportNodesPayload struct {
	TreeId       TreeId
	ParentNodeId NodeId
	Subtree      ExportedSubtree
}

type ExportNodesPayload struct {
	RootNodeId NodeId
}

type CommitWorkingCopyPayload struct {
	WorkingCopyId WorkingCopyId
}

type CommitWorkingCopyForCreatePayload struct {
	WorkingCopyId WorkingCopyId
}

// ExportedSubtree is the serialization format for copyNodes/pasteNodes and
// importNodes/exportNodes: a flattened list of nodes (root first, parents
// before children) plus their entity payloads, addressed by the original
// NodeId so pasteNodes/importNodes can remap parent references while
// generating fresh ids.
type ExportedSubtree struct {
	Nodes    []ExportedNode `yaml:"nodes"`
	Entities []ExportedEntity `yaml:"entities"`
}

type ExportedNode struct {
	Id       NodeId `yaml:"id"`
	ParentId NodeId `yaml:"parentId"`
	Name     string `yaml:"name"`
	NodeType string `yaml:"nodeType"`
}

type ExportedEntity struct {
	NodeId  NodeId `yaml:"nodeId"`
	Payload []byte `yaml:"payload"`
}

// Result is what executeCommand resolves with.
type Result struct {
	Success bool
	Ids     []NodeId
	Error   *CommandError
	// Partial is set alongside Success:true when a lifecycle hook failed
	// after the storage transaction committed.
	Partial *CommandError
	// Export carries the serialized subtree produced by copyNodes/exportNodes
	// — the only command kinds whose result is data rather than node ids.
	Export *ExportedSubtree
}

// CommandError is the RPC wire error shape.
type CommandError struct {
	Kind    string
	Message string
	Details map[string]any
}

func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}
