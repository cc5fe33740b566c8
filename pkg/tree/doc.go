// Package tree implements the canonical read operations and structural
// invariants on top of pkg/storage: getNode, getChildren,
// getDescendants, getAncestors, searchNodes, and the acyclicity/trash-
// boundary/sibling-uniqueness checks the command pipeline calls during
// validate and plan. It holds no mutation logic of its own — pkg/command
// is the only caller allowed to write through pkg/storage.
package tree
