// Package workingcopy implements the create/discard half of the
// working-copy lifecycle: createWorkingCopy (edit-existing), createDraft
// WorkingCopy (create-new), and discardWorkingCopy. The commit half
// (commitWorkingCopy/commitWorkingCopyForCreate) needs the pipeline's
// transactional write path and already lives in pkg/command; Manager just
// hands those two off to the pipeline as ordinary commands, issuing a
// handle up front and leaving redemption to whichever caller actually
// spends it.
package workingcopy
