package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kubohiroya/hierarchidb/pkg/enginerr"
	"github.com/kubohiroya/hierarchidb/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTrees        = []byte("trees")
	bucketNodes        = []byte("treeNodes")
	bucketIdxChildren  = []byte("idx_children")  // nested: parentId -> {nodeId: nil}
	bucketIdxName      = []byte("idx_name")      // parentId\x00name -> nodeId (live siblings only)
	bucketIdxNodeType  = []byte("idx_nodetype")  // nested: nodeType -> {nodeId: nil}
	bucketIdxUpdatedAt = []byte("idx_updatedat")  // updatedAt(8 bytes big-endian)+nodeId -> nodeId
	bucketSchemaVers   = []byte("schema_versions") // nodeType -> uint32 version
)

const entityBucketPrefix = "entities_"
const entityNodeIndexPrefix = "idx_entity_bynode_"

func entityBucketName(nodeType string) []byte {
	return []byte(entityBucketPrefix + nodeType)
}

func entityNodeIndexName(nodeType string) []byte {
	return []byte(entityNodeIndexPrefix + nodeType)
}

// CoreDB is the durable store: trees, treeNodes, and per-plugin entity
// buckets, all backed by one bbolt file.
type CoreDB struct {
	db *bolt.DB
}

// OpenCoreDB opens (creating if absent) the durable store at path.
func OpenCoreDB(path string) (*CoreDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.StorageUnavailable, err, "open core db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTrees, bucketNodes, bucketIdxChildren, bucketIdxName, bucketIdxNodeType, bucketIdxUpdatedAt, bucketSchemaVers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, enginerr.Wrap(enginerr.StorageUnavailable, err, "init core db buckets")
	}
	return &CoreDB{db: db}, nil
}

func (c *CoreDB) Close() error { return c.db.Close() }

// CoreTx is a live transaction handle passed into Update/View callbacks.
// Multiple record writes issued against the same CoreTx are atomic: bbolt
// commits (or rolls back) the whole bolt.Tx together.
type CoreTx struct {
	tx *bolt.Tx
}

// Update runs fn inside a single read-write bbolt transaction.
func (c *CoreDB) Update(fn func(tx *CoreTx) error) error {
	err := c.db.Update(func(btx *bolt.Tx) error {
		return fn(&CoreTx{tx: btx})
	})
	if err != nil {
		if _, ok := err.(*enginerr.Error); ok {
			return err
		}
		return enginerr.Wrap(enginerr.TransactionAborted, err, "core db update")
	}
	return nil
}

// View runs fn inside a read-only bbolt transaction.
func (c *CoreDB) View(fn func(tx *CoreTx) error) error {
	err := c.db.View(func(btx *bolt.Tx) error {
		return fn(&CoreTx{tx: btx})
	})
	if err != nil {
		if _, ok := err.(*enginerr.Error); ok {
			return err
		}
		return enginerr.Wrap(enginerr.StorageUnavailable, err, "core db view")
	}
	return nil
}

// --- Trees ---

func (t *CoreTx) PutTree(tree *types.Tree) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketTrees).Put([]byte(tree.TreeId), data)
}

func (t *CoreTx) GetTree(id types.TreeId) (*types.Tree, error) {
	data := t.tx.Bucket(bucketTrees).Get([]byte(id))
	if data == nil {
		return nil, enginerr.Newf(enginerr.UnknownTree, "tree %s not found", id)
	}
	var tree types.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

func (t *CoreTx) ListTrees() ([]*types.Tree, error) {
	var out []*types.Tree
	err := t.tx.Bucket(bucketTrees).ForEach(func(k, v []byte) error {
		var tree types.Tree
		if err := json.Unmarshal(v, &tree); err != nil {
			return err
		}
		out = append(out, &tree)
		return nil
	})
	return out, err
}

// --- Nodes ---

func nameIndexKey(parentId types.NodeId, name string) []byte {
	return append(append([]byte(parentId), 0), []byte(name)...)
}

func updatedAtIndexKey(updatedAt types.Timestamp, id types.NodeId) []byte {
	buf := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(buf, uint64(updatedAt))
	return append(buf, []byte(id)...)
}

// GetNode returns the node or (nil, UnknownNode).
func (t *CoreTx) GetNode(id types.NodeId) (*types.TreeNode, error) {
	data := t.tx.Bucket(bucketNodes).Get([]byte(id))
	if data == nil {
		return nil, enginerr.Newf(enginerr.UnknownNode, "node %s not found", id)
	}
	var node types.TreeNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// PutNode inserts or updates a node, maintaining all secondary indices. It
// reads the prior record (if any) to clean up stale index entries.
func (t *CoreTx) PutNode(node *types.TreeNode) error {
	nodesB := t.tx.Bucket(bucketNodes)

	var prev *types.TreeNode
	if prevData := nodesB.Get([]byte(node.Id)); prevData != nil {
		prev = &types.TreeNode{}
		if err := json.Unmarshal(prevData, prev); err != nil {
			return err
		}
	}

	if prev != nil {
		if err := t.removeNodeIndices(prev); err != nil {
			return err
		}
	}

	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if err := nodesB.Put([]byte(node.Id), data); err != nil {
		return err
	}
	return t.addNodeIndices(node)
}

func (t *CoreTx) addNodeIndices(node *types.TreeNode) error {
	childrenB, err := t.tx.Bucket(bucketIdxChildren).CreateBucketIfNotExists([]byte(node.ParentId))
	if err != nil {
		return err
	}
	if err := childrenB.Put([]byte(node.Id), nil); err != nil {
		return err
	}

	if !node.Removed {
		if err := t.tx.Bucket(bucketIdxName).Put(nameIndexKey(node.ParentId, node.Name), []byte(node.Id)); err != nil {
			return err
		}
	}

	typeB, err := t.tx.Bucket(bucketIdxNodeType).CreateBucketIfNotExists([]byte(node.NodeType))
	if err != nil {
		return err
	}
	if err := typeB.Put([]byte(node.Id), nil); err != nil {
		return err
	}

	return t.tx.Bucket(bucketIdxUpdatedAt).Put(updatedAtIndexKey(node.UpdatedAt, node.Id), []byte(node.Id))
}

func (t *CoreTx) removeNodeIndices(node *types.TreeNode) error {
	if childrenB := t.tx.Bucket(bucketIdxChildren).Bucket([]byte(node.ParentId)); childrenB != nil {
		if err := childrenB.Delete([]byte(node.Id)); err != nil {
			return err
		}
	}
	if !node.Removed {
		if err := t.tx.Bucket(bucketIdxName).Delete(nameIndexKey(node.ParentId, node.Name)); err != nil {
			return err
		}
	}
	if typeB := t.tx.Bucket(bucketIdxNodeType).Bucket([]byte(node.NodeType)); typeB != nil {
		if err := typeB.Delete([]byte(node.Id)); err != nil {
			return err
		}
	}
	return t.tx.Bucket(bucketIdxUpdatedAt).Delete(updatedAtIndexKey(node.UpdatedAt, node.Id))
}

// DeleteNode removes a node and its indices permanently (removePermanent).
func (t *CoreTx) DeleteNode(id types.NodeId) error {
	node, err := t.GetNode(id)
	if err != nil {
		return err
	}
	if err := t.removeNodeIndices(node); err != nil {
		return err
	}
	return t.tx.Bucket(bucketNodes).Delete([]byte(id))
}

// ChildNodeIds returns all child ids of parentId in no particular order;
// callers sort (tree.getChildren does the documented sort/pagination).
func (t *CoreTx) ChildNodeIds(parentId types.NodeId) ([]types.NodeId, error) {
	b := t.tx.Bucket(bucketIdxChildren).Bucket([]byte(parentId))
	if b == nil {
		return nil, nil
	}
	var ids []types.NodeId
	err := b.ForEach(func(k, _ []byte) error {
		ids = append(ids, types.NodeId(k))
		return nil
	})
	return ids, err
}

// FindChildByName looks up a live (non-removed) sibling by name.
func (t *CoreTx) FindChildByName(parentId types.NodeId, name string) (types.NodeId, bool, error) {
	v := t.tx.Bucket(bucketIdxName).Get(nameIndexKey(parentId, name))
	if v == nil {
		return "", false, nil
	}
	return types.NodeId(v), true, nil
}

// NodeTypeNodeIds returns every node id registered under nodeType.
func (t *CoreTx) NodeTypeNodeIds(nodeType string) ([]types.NodeId, error) {
	b := t.tx.Bucket(bucketIdxNodeType).Bucket([]byte(nodeType))
	if b == nil {
		return nil, nil
	}
	var ids []types.NodeId
	err := b.ForEach(func(k, _ []byte) error {
		ids = append(ids, types.NodeId(k))
		return nil
	})
	return ids, err
}

// AllNodeIds returns every node id in the store (used by search's fallback
// full scan when a root subtree needs no bound, and by tests).
func (t *CoreTx) AllNodeIds() ([]types.NodeId, error) {
	var ids []types.NodeId
	err := t.tx.Bucket(bucketNodes).ForEach(func(k, _ []byte) error {
		ids = append(ids, types.NodeId(k))
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}

// --- Entities ---

// EnsureEntityBucket creates the entities_<nodeType> bucket (and its
// node-id index) if absent, and enforces the schema-version contract: the
// engine refuses to start if a plugin's stored schema is newer than its
// code.
func (t *CoreTx) EnsureEntityBucket(nodeType string, schemaVersion int) error {
	if _, err := t.tx.CreateBucketIfNotExists(entityBucketName(nodeType)); err != nil {
		return err
	}
	if _, err := t.tx.CreateBucketIfNotExists(entityNodeIndexName(nodeType)); err != nil {
		return err
	}

	versB := t.tx.Bucket(bucketSchemaVers)
	stored := versB.Get([]byte(nodeType))
	if stored != nil {
		storedVer := int(binary.BigEndian.Uint32(stored))
		if storedVer > schemaVersion {
			return enginerr.Newf(enginerr.SchemaMismatch,
				"plugin %q stored schema v%d is newer than code v%d", nodeType, storedVer, schemaVersion)
		}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(schemaVersion))
	return versB.Put([]byte(nodeType), buf)
}

func (t *CoreTx) PutEntity(nodeType string, entity *types.Entity) error {
	b := t.tx.Bucket(entityBucketName(nodeType))
	if b == nil {
		return enginerr.Newf(enginerr.UnknownNodeType, "entity bucket for %q not initialized", nodeType)
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(entity.Id), data); err != nil {
		return err
	}
	idxB := t.tx.Bucket(entityNodeIndexName(nodeType))
	return idxB.Put([]byte(entity.NodeId), []byte(entity.Id))
}

func (t *CoreTx) GetEntityByNode(nodeType string, nodeId types.NodeId) (*types.Entity, error) {
	idxB := t.tx.Bucket(entityNodeIndexName(nodeType))
	if idxB == nil {
		return nil, enginerr.Newf(enginerr.UnknownNodeType, "entity bucket for %q not initialized", nodeType)
	}
	entityID := idxB.Get([]byte(nodeId))
	if entityID == nil {
		return nil, enginerr.Newf(enginerr.UnknownEntity, "no entity for node %s", nodeId)
	}
	data := t.tx.Bucket(entityBucketName(nodeType)).Get(entityID)
	if data == nil {
		return nil, enginerr.Newf(enginerr.UnknownEntity, "entity %s missing", entityID)
	}
	var e types.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *CoreTx) DeleteEntity(nodeType string, nodeId types.NodeId) error {
	idxB := t.tx.Bucket(entityNodeIndexName(nodeType))
	if idxB == nil {
		return nil
	}
	entityID := idxB.Get([]byte(nodeId))
	if entityID == nil {
		return nil
	}
	if err := idxB.Delete([]byte(nodeId)); err != nil {
		return err
	}
	return t.tx.Bucket(entityBucketName(nodeType)).Delete(entityID)
}
