// Package subscription implements the observation fabric: a Broker that
// fans committed ChangeEvents out to node/subtree/tree-scoped observers,
// with debounce coalescing of `updated` events, back-pressure dropping
// into a synthetic `resyncHint`, and a bounded recent-events ring buffer
// for getRecentEvents/getEventHistory.
//
// A single ingest path fed by Publish fans out to per-subscriber queues,
// each drained independently so a slow observer can't block another, with
// per-subscription scope matching and debounce coalescing layered on top.
package subscription
