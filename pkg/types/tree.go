package types

// Sentinel nodeType values for a tree's two roots. Neither is registered in
// the plugin registry; the pipeline never calls a handler for them.
const (
	RootNodeType  = "root"
	TrashNodeType = "trash"
)

// Tree is the root record for a hierarchy. A tree owns two sentinel roots:
// a live root and a trash root. Trees are created once and never renamed
// structurally by user commands.
type Tree struct {
	TreeId         TreeId `json:"treeId"`
	Name           string `json:"name"`
	RootNodeId     NodeId `json:"rootNodeId"`
	TrashRootNodeId NodeId `json:"trashRootNodeId"`
}

// TreeNode is the canonical node record. Every node except the two sentinel
// roots has exactly one parent inside the same tree.
type TreeNode struct {
	Id        NodeId `json:"id"`
	TreeId    TreeId `json:"treeId"`
	ParentId  NodeId `json:"parentId"`
	Name      string `json:"name"`
	NodeType  string `json:"nodeType"`
	CreatedAt Timestamp `json:"createdAt"`
	UpdatedAt Timestamp `json:"updatedAt"`
	Version   int64  `json:"version"`
	// Removed marks a node as living under the trash root. It is derived
	// from ancestor lookup at write time and kept here only as a fast-path
	// read hint — the pipeline never trusts it over an ancestor walk for
	// trash-boundary enforcement.
	Removed bool `json:"removed,omitempty"`
}

// Clone returns a deep copy safe to hand to callers outside the storage
// transaction boundary.
func (n *TreeNode) Clone() *TreeNode {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

// IsRoot reports whether this node is a tree's live or trash sentinel root.
func (n *TreeNode) IsRoot(tree *Tree) bool {
	return n.Id == tree.RootNodeId || n.Id == tree.TrashRootNodeId
}

// SortKey enumerates the fields getChildren can order by.
type SortKey string

const (
	SortByName      SortKey = "name"
	SortByCreatedAt SortKey = "createdAt"
	SortByUpdatedAt SortKey = "updatedAt"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ChildrenQuery parameterizes getChildren.
type ChildrenQuery struct {
	SortBy    SortKey
	SortOrder SortOrder
	Limit     int
	Offset    int
}

// Normalize fills in the documented defaults: createdAt asc, no pagination.
func (q ChildrenQuery) Normalize() ChildrenQuery {
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}
	if q.SortOrder == "" {
		q.SortOrder = SortAsc
	}
	return q
}

// DescendantsQuery parameterizes getDescendants.
type DescendantsQuery struct {
	MaxDepth     int // 0 means unbounded (subject to the safety bound)
	IncludeTypes []string
}

// SearchMode enumerates searchNodes match strategies.
type SearchMode string

const (
	SearchExact   SearchMode = "exact"
	SearchPartial SearchMode = "partial"
	SearchRegex   SearchMode = "regex"
)

// SearchQuery parameterizes searchNodes.
type SearchQuery struct {
	RootNodeId    NodeId
	Query         string
	Mode          SearchMode
	CaseSensitive bool
}

// NameConflictPolicy controls how createNode/moveNodes resolve a sibling
// name collision.
type NameConflictPolicy string

const (
	ConflictReject            NameConflictPolicy = ""
	ConflictAutoRename        NameConflictPolicy = "auto-rename"
	ConflictReplaceIfSameType NameConflictPolicy = "replace-if-same-type"
)

// TraversalSafetyBound caps BFS/ancestor-chain walks against corrupt cycles
// or pathologically deep or wide subtrees.
const TraversalSafetyBound = 10000
