package types

// ScopeKind enumerates the three observation scopes.
type ScopeKind string

const (
	ScopeNode    ScopeKind = "node"
	ScopeSubtree ScopeKind = "subtree"
	ScopeTree    ScopeKind = "tree"
)

// SubscriptionScope parameterizes what a subscription observes.
type SubscriptionScope struct {
	Kind           ScopeKind
	RootId         NodeId // node id for node/subtree scope
	TreeId         TreeId // tree id for tree scope
	Depth          int    // 0 = unbounded, subtree scope only
	IncludeTypes   []string
	ExcludeTypes   []string
	IncludeMetadata bool
}

// SubscriptionRecord is the bookkeeping entry for a standing observer.
// CallbackRef is an opaque sink id; the transport maps it back
// to the real client-side callback.
type SubscriptionRecord struct {
	SubscriptionId SubscriptionId
	Scope          SubscriptionScope
	CallbackRef    string
	LastDeliveredAt Timestamp
}

// SubscriptionStats mirrors getSubscriptionStats.
type SubscriptionStats struct {
	TotalActive       int
	ByScope           map[ScopeKind]int
	EventsProcessed24h int64
	AvgLatencyMillis  float64
}
