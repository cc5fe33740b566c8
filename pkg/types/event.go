package types

// ChangeEventType enumerates the kinds of change event the pipeline emits.
type ChangeEventType string

const (
	EventCreated       ChangeEventType = "created"
	EventUpdated       ChangeEventType = "updated"
	EventMoved         ChangeEventType = "moved"
	EventRemoved       ChangeEventType = "removed"
	EventTrashed       ChangeEventType = "trashed"
	EventRecovered     ChangeEventType = "recovered"
	EventEntityChanged ChangeEventType = "entityChanged"
	// EventResyncHint is synthesized by the subscription fabric itself when
	// a subscriber's queue overflows; it never originates in
	// the command pipeline.
	EventResyncHint ChangeEventType = "resyncHint"
	// EventInitial is the synthetic snapshot-boundary event every
	// subscribe call emits immediately.
	EventInitial ChangeEventType = "initial"
)

// EventCause identifies the command that produced an event, for callers
// that need to correlate delivery with the command they issued.
type EventCause struct {
	CommandId CommandId `json:"commandId"`
	GroupId   GroupId   `json:"groupId,omitempty"`
}

// ChangeEvent is the wire event shape delivered to subscribers.
type ChangeEvent struct {
	Type         ChangeEventType `json:"type"`
	NodeId       NodeId          `json:"nodeId"`
	TreeId       TreeId          `json:"treeId"`
	PrevParentId NodeId          `json:"prevParentId,omitempty"`
	NewParentId  NodeId          `json:"newParentId,omitempty"`
	At           Timestamp       `json:"at"`
	Version      int64           `json:"version"`
	Cause        EventCause      `json:"cause"`
}

// Clone returns a shallow copy (ChangeEvent has no reference fields besides
// strings, which are immutable in Go).
func (e ChangeEvent) Clone() ChangeEvent { return e }
