package storage

import (
	"encoding/json"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkingCopies       = []byte("workingCopies")
	bucketIdxWCByOf           = []byte("idx_wc_by_of")       // workingCopyOf -> {workingCopyId: nil}
	bucketIdxWCByExpiry       = []byte("idx_wc_by_expiry")   // expiresAt(8 bytes)+id -> id
	bucketBatchSessions       = []byte("batchSessions")
)

// EphemeralDB is the non-durable store for working copies and batch/import
// sessions. It lives in its own bbolt file so it can be wiped
// independently of CoreDB without touching tree data.
type EphemeralDB struct {
	db *bolt.DB
}

// OpenEphemeralDB opens (creating if absent) the ephemeral store at path.
func OpenEphemeralDB(path string) (*EphemeralDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.StorageUnavailable, err, "open ephemeral db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWorkingCopies, bucketIdxWCByOf, bucketIdxWCByExpiry, bucketBatchSessions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, enginerr.Wrap(enginerr.StorageUnavailable, err, "init ephemeral db buckets")
	}
	return &EphemeralDB{db: db}, nil
}

func (e *EphemeralDB) Close() error { return e.db.Close() }

// EphemeralTx mirrors CoreTx for the ephemeral store.
type EphemeralTx struct {
	tx *bolt.Tx
}

func (e *EphemeralDB) Update(fn func(tx *EphemeralTx) error) error {
	err := e.db.Update(func(btx *bolt.Tx) error { return fn(&EphemeralTx{tx: btx}) })
	if err != nil {
		if _, ok := err.(*enginerr.Error); ok {
			return err
		}
		return enginerr.Wrap(enginerr.TransactionAborted, err, "ephemeral db update")
	}
	return nil
}

func (e *EphemeralDB) View(fn func(tx *EphemeralTx) error) error {
	err := e.db.View(func(btx *bolt.Tx) error { return fn(&EphemeralTx{tx: btx}) })
	if err != nil {
		if _, ok := err.(*enginerr.Error); ok {
			return err
		}
		return enginerr.Wrap(enginerr.StorageUnavailable, err, "ephemeral db view")
	}
	return nil
}

func expiryIndexKey(expiresAt types.Timestamp, id types.WorkingCopyId) []byte {
	return updatedAtIndexKey(expiresAt, types.NodeId(id))
}

// PutWorkingCopy inserts or updates a working copy, maintaining the
// workingCopyOf and expiresAt indices.
func (t *EphemeralTx) PutWorkingCopy(wc *types.WorkingCopy) error {
	wcB := t.tx.Bucket(bucketWorkingCopies)

	var prev *types.WorkingCopy
	if prevData := wcB.Get([]byte(wc.WorkingCopyId)); prevData != nil {
		prev = &types.WorkingCopy{}
		if err := json.Unmarshal(prevData, prev); err != nil {
			return err
		}
		if err := t.removeWorkingCopyIndices(prev); err != nil {
			return err
		}
	}

	data, err := json.Marshal(wc)
	if err != nil {
		return err
	}
	if err := wcB.Put([]byte(wc.WorkingCopyId), data); err != nil {
		return err
	}
	return t.addWorkingCopyIndices(wc)
}

func (t *EphemeralTx) addWorkingCopyIndices(wc *types.WorkingCopy) error {
	ofB, err := t.tx.Bucket(bucketIdxWCByOf).CreateBucketIfNotExists([]byte(wc.WorkingCopyOf))
	if err != nil {
		return err
	}
	if err := ofB.Put([]byte(wc.WorkingCopyId), nil); err != nil {
		return err
	}
	return t.tx.Bucket(bucketIdxWCByExpiry).Put(expiryIndexKey(wc.ExpiresAt, wc.WorkingCopyId), []byte(wc.WorkingCopyId))
}

func (t *EphemeralTx) removeWorkingCopyIndices(wc *types.WorkingCopy) error {
	if ofB := t.tx.Bucket(bucketIdxWCByOf).Bucket([]byte(wc.WorkingCopyOf)); ofB != nil {
		if err := ofB.Delete([]byte(wc.WorkingCopyId)); err != nil {
			return err
		}
	}
	return t.tx.Bucket(bucketIdxWCByExpiry).Delete(expiryIndexKey(wc.ExpiresAt, wc.WorkingCopyId))
}

func (t *EphemeralTx) GetWorkingCopy(id types.WorkingCopyId) (*types.WorkingCopy, error) {
	data := t.tx.Bucket(bucketWorkingCopies).Get([]byte(id))
	if data == nil {
		return nil, enginerr.Newf(enginerr.UnknownWorkingCopy, "working copy %s not found", id)
	}
	var wc types.WorkingCopy
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, err
	}
	return &wc, nil
}

// FindWorkingCopiesOf returns every working copy id drafted from nodeId
// (used to enforce the one-live-copy-per-session invariant).
func (t *EphemeralTx) FindWorkingCopiesOf(nodeId types.NodeId) ([]types.WorkingCopyId, error) {
	b := t.tx.Bucket(bucketIdxWCByOf).Bucket([]byte(nodeId))
	if b == nil {
		return nil, nil
	}
	var ids []types.WorkingCopyId
	err := b.ForEach(func(k, _ []byte) error {
		ids = append(ids, types.WorkingCopyId(k))
		return nil
	})
	return ids, err
}

// DeleteWorkingCopy removes a working copy and its indices (commit/discard/
// TTL sweep all funnel through this).
func (t *EphemeralTx) DeleteWorkingCopy(id types.WorkingCopyId) error {
	wc, err := t.GetWorkingCopy(id)
	if err != nil {
		if enginerr.KindOf(err) == enginerr.UnknownWorkingCopy {
			return nil
		}
		return err
	}
	if err := t.removeWorkingCopyIndices(wc); err != nil {
		return err
	}
	return t.tx.Bucket(bucketWorkingCopies).Delete([]byte(id))
}

// ExpiredWorkingCopyIds returns every working copy id whose expiresAt is at
// or before cutoff, in expiry order — the sweep loop's reap candidate list.
func (t *EphemeralTx) ExpiredWorkingCopyIds(cutoff types.Timestamp) ([]types.WorkingCopyId, error) {
	var ids []types.WorkingCopyId
	c := t.tx.Bucket(bucketIdxWCByExpiry).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if len(k) < 8 {
			continue
		}
		expiresAt := types.Timestamp(int64(uint64(k[0])<<56 | uint64(k[1])<<48 | uint64(k[2])<<40 | uint64(k[3])<<32 |
			uint64(k[4])<<24 | uint64(k[5])<<16 | uint64(k[6])<<8 | uint64(k[7])))
		if expiresAt > cutoff {
			break
		}
		ids = append(ids, types.WorkingCopyId(v))
	}
	return ids, nil
}

// BatchSession tracks a long-running import/export/copy operation so the
// engine can report progress and release resources if a client abandons it.
type BatchSession struct {
	Id        string           `json:"id"`
	Kind      string           `json:"kind"`
	StartedAt types.Timestamp  `json:"startedAt"`
	ExpiresAt types.Timestamp  `json:"expiresAt"`
	Progress  int              `json:"progress"`
	Total     int              `json:"total"`
	Done      bool             `json:"done"`
	Error     string           `json:"error,omitempty"`
}

func (t *EphemeralTx) PutBatchSession(s *BatchSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketBatchSessions).Put([]byte(s.Id), data)
}

func (t *EphemeralTx) GetBatchSession(id string) (*BatchSession, error) {
	data := t.tx.Bucket(bucketBatchSessions).Get([]byte(id))
	if data == nil {
		return nil, enginerr.Newf(enginerr.InvalidPayload, "batch session %s not found", id)
	}
	var s BatchSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *EphemeralTx) DeleteBatchSession(id string) error {
	return t.tx.Bucket(bucketBatchSessions).Delete([]byte(id))
}
