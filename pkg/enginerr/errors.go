// Package enginerr defines the engine's error taxonomy. Every error the
// engine returns across a package boundary is either a *enginerr.Error or
// wraps one with fmt.Errorf("...: %w", err), wrapping low-level errors
// rather than discarding context.
package enginerr

import "fmt"

// Kind is one of the taxonomy entries below. It is not a Go type per
// node/command kind — it names the failure category, not the payload.
type Kind string

const (
	// Validation
	InvalidPayload     Kind = "InvalidPayload"
	InvalidName        Kind = "InvalidName"
	NameConflict       Kind = "NameConflict"
	InvalidQuery       Kind = "InvalidQuery"
	CycleDetected      Kind = "CycleDetected"
	AcrossTrashBoundary Kind = "AcrossTrashBoundary"

	// NotFound
	UnknownNode         Kind = "UnknownNode"
	UnknownTree         Kind = "UnknownTree"
	UnknownEntity       Kind = "UnknownEntity"
	UnknownWorkingCopy  Kind = "UnknownWorkingCopy"
	UnknownSubscription Kind = "UnknownSubscription"
	UnknownNodeType     Kind = "UnknownNodeType"

	// State
	WorkingCopyExists  Kind = "WorkingCopyExists"
	WorkingCopyExpired Kind = "WorkingCopyExpired"
	UndoUnavailable    Kind = "UndoUnavailable"
	RedoUnavailable    Kind = "RedoUnavailable"
	NonReversible      Kind = "NonReversible"

	// Storage
	StorageUnavailable Kind = "StorageUnavailable"
	QuotaExceeded      Kind = "QuotaExceeded"
	SchemaMismatch     Kind = "SchemaMismatch"
	TransactionAborted Kind = "TransactionAborted"

	// Plugin
	HookFailed      Kind = "HookFailed"
	HandlerMissing  Kind = "HandlerMissing"

	// Partial
	PartialFailure Kind = "PartialFailure"

	// Transport
	RpcTimeout Kind = "RpcTimeout"
	Canceled   Kind = "Canceled"

	// Internal is the facade's catch-all for a recovered panic, so no raw
	// panic ever crosses the RPC boundary.
	Internal Kind = "Internal"
)

// Error is the engine's typed error. It carries an optional wrapped cause so
// %w chains keep working with errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetails attaches structured context (e.g. conflicting name, node id).
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if AsError(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError is a small errors.As wrapper kept local so callers don't need to
// import "errors" just to unwrap engine errors.
func AsError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
