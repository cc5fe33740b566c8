// Package storage implements the two logical stores on top of
// go.etcd.io/bbolt: one bucket per collection, JSON-marshaled records,
// secondary indices as sibling buckets keyed by the indexed field.
//
// CoreDB is durable: trees, treeNodes (indexed by parentId, by
// (parentId,name) for sibling-uniqueness checks, by nodeType, by
// updatedAt), and one entities_<nodeType> bucket per registered plugin.
//
// EphemeralDB holds workingCopies (indexed by workingCopyOf and by
// expiresAt) and batchSessions. It is opened from a separate bbolt file so
// it can be wiped independently of the durable store without touching tree
// data — non-durable state that survives a reload but need not.
//
// Both stores take the single-writer-at-a-time, atomic-multi-record-write
// contract directly from bbolt's own transaction model: every mutating
// method opens one db.Update and performs all of its writes inside it.
package storage
