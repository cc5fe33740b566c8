package command

import "github.com/kubohiroya/hierarchidb/pkg/types"

// kindDispatch wires every types.CommandKind to its validate/apply/
// postCommitHook/journal implementation. It is package-level and read-only
// after init: a map literal instead of a type switch, so Pipeline.Execute
// stays a single generic driver over every command kind.
var kindDispatch = map[types.CommandKind]kindImpl{
	types.CmdCreateNode: {
		validate: validateCreateNode, apply: applyCreateNode, postCommitHook: postCommitCreateNode, journal: true,
	},
	types.CmdUpdateNode: {
		validate: validateUpdateNode, apply: applyUpdateNode, postCommitHook: postCommitUpdateNode, journal: true,
	},
	types.CmdMoveNodes: {
		validate: validateMoveNodes, apply: applyMoveNodes, journal: true,
	},
	types.CmdDuplicateNodes: {
		validate: validateDuplicateNodes, apply: applyDuplicateNodes, journal: true,
	},
	types.CmdCopyNodes: {
		validate: validateCopyNodes, apply: applyCopyNodes, journal: false,
	},
	types.CmdPasteNodes: {
		validate: validatePasteNodes, apply: applyPasteNodes, journal: true,
	},
	types.CmdMoveToTrash: {
		validate: validateMoveToTrash, apply: applyMoveToTrash, journal: true,
	},
	types.CmdRecoverFromTrash: {
		validate: validateRecoverFromTrash, apply: applyRecoverFromTrash, journal: true,
	},
	types.CmdRemovePermanent: {
		validate: validateRemovePermanent, apply: applyRemovePermanent, journal: false,
	},
	types.CmdImportNodes: {
		validate: validateImportNodes, apply: applyImportNodes, journal: true,
	},
	types.CmdExportNodes: {
		validate: validateExportNodes, apply: applyExportNodes, journal: false,
	},
	types.CmdCommitWorkingCopy: {
		validate: validateCommitWorkingCopy, apply: applyCommitWorkingCopy, postCommitHook: postCommitCommitWorkingCopy, journal: false,
	},
	types.CmdCommitWorkingCopyForCreate: {
		validate: validateCommitWorkingCopyForCreate, apply: applyCommitWorkingCopyForCreate, postCommitHook: postCommitCommitWorkingCopyForCreate, journal: true,
	},
}
