// Package btree implements a B+-tree index over buffered pages, mapping
// integer keys to record identifiers. Nodes are held in an arena keyed
// by block number; parent and sibling references are block numbers, so
// the node graph cannot form pointer cycles.
package btree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/etushar89/rdbms-core/pkg/buffer"
	"github.com/etushar89/rdbms-core/pkg/record"
	"github.com/etushar89/rdbms-core/pkg/storage"
)

var (
	// ErrKeyNotFound is returned when a key is absent from the tree
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoMoreEntries is returned by scans when the leaf chain is exhausted
	ErrNoMoreEntries = errors.New("no more entries")

	// ErrInvalidOrder is returned when the requested order does not fit a page
	ErrInvalidOrder = errors.New("invalid tree order")

	// ErrTreeClosed is returned when operating on a closed tree
	ErrTreeClosed = errors.New("tree is closed")

	// ErrKeyType is returned for key types other than INT
	ErrKeyType = errors.New("unsupported key type")
)

// noBlock is the sentinel for absent parent, sibling and root references.
const noBlock = int32(-1)

// maxOrder bounds the order so a full leaf still fits one page.
const maxOrder = (storage.PageSize - nodeHeaderSize) / leafEntrySize

// treeMeta is the persisted state in block 0: root block, node and entry
// counters, key type, next free block, and the order.
type treeMeta struct {
	rootBlock  int32
	numNodes   int32
	numEntries int32
	keyType    int32
	nextBlock  int32
	order      int32
}

func (m *treeMeta) serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(m.rootBlock))
	binary.LittleEndian.PutUint32(buf[4:], uint32(m.numNodes))
	binary.LittleEndian.PutUint32(buf[8:], uint32(m.numEntries))
	binary.LittleEndian.PutUint32(buf[12:], uint32(m.keyType))
	binary.LittleEndian.PutUint32(buf[16:], uint32(m.nextBlock))
	binary.LittleEndian.PutUint32(buf[20:], uint32(m.order))
}

func (m *treeMeta) deserialize(buf []byte) {
	m.rootBlock = int32(binary.LittleEndian.Uint32(buf[0:]))
	m.numNodes = int32(binary.LittleEndian.Uint32(buf[4:]))
	m.numEntries = int32(binary.LittleEndian.Uint32(buf[8:]))
	m.keyType = int32(binary.LittleEndian.Uint32(buf[12:]))
	m.nextBlock = int32(binary.LittleEndian.Uint32(buf[16:]))
	m.order = int32(binary.LittleEndian.Uint32(buf[20:]))
}

// BTree is an open index: its buffer pool, persisted metadata and the
// node arena.
type BTree struct {
	name  string
	pool  *buffer.BufferPool
	meta  treeMeta
	nodes map[int32]*node
}

// Manager creates and opens B+-tree index files over a storage backend.
type Manager struct {
	sm       *storage.Manager
	frames   int
	strategy buffer.ReplacementStrategy
}

// NewManager creates a B+-tree manager. frames and strategy configure
// the buffer pool each opened tree runs on.
func NewManager(sm *storage.Manager, frames int, strategy buffer.ReplacementStrategy) *Manager {
	return &Manager{sm: sm, frames: frames, strategy: strategy}
}

// CreateBTree builds an empty index file with the given key type and
// order. Only INT keys are supported.
func (m *Manager) CreateBTree(name string, keyType record.DataType, order int) error {
	if keyType != record.TypeInt {
		return fmt.Errorf("%w: %s", ErrKeyType, keyType)
	}
	if order < 2 || order > maxOrder {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidOrder, order, maxOrder)
	}

	if err := m.sm.CreatePageFile(name); err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	h, err := m.sm.OpenPageFile(name)
	if err != nil {
		return fmt.Errorf("failed to open new index file: %w", err)
	}
	defer h.Close()

	meta := treeMeta{
		rootBlock: noBlock,
		keyType:   int32(keyType),
		nextBlock: 1,
		order:     int32(order),
	}
	buf := make([]byte, storage.PageSize)
	meta.serialize(buf)
	if err := h.WriteBlock(0, buf); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return nil
}

// OpenBTree opens an existing index file.
func (m *Manager) OpenBTree(name string) (*BTree, error) {
	pool, err := buffer.NewBufferPool(m.sm, name, m.frames, m.strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", name, err)
	}

	t := &BTree{
		name:  name,
		pool:  pool,
		nodes: make(map[int32]*node),
	}
	ph, err := pool.PinPage(0)
	if err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("failed to pin index metadata: %w", err)
	}
	t.meta.deserialize(ph.Data)
	if err := ph.Unpin(); err != nil {
		pool.Shutdown()
		return nil, err
	}
	if t.meta.order < 2 {
		pool.Shutdown()
		return nil, fmt.Errorf("%w: file holds order %d", ErrInvalidOrder, t.meta.order)
	}
	return t, nil
}

// DeleteBTree removes an index file.
func (m *Manager) DeleteBTree(name string) error {
	return m.sm.DestroyPageFile(name)
}

// Name returns the index file name.
func (t *BTree) Name() string {
	return t.name
}

// Order returns the maximum keys per node.
func (t *BTree) Order() int {
	return int(t.meta.order)
}

// NumNodes returns the persisted node counter.
func (t *BTree) NumNodes() int {
	return int(t.meta.numNodes)
}

// NumEntries returns the persisted entry counter.
func (t *BTree) NumEntries() int {
	return int(t.meta.numEntries)
}

// KeyType returns the key type stored in the metadata block.
func (t *BTree) KeyType() record.DataType {
	return record.DataType(t.meta.keyType)
}

// Pool exposes the tree's buffer pool for diagnostics.
func (t *BTree) Pool() *buffer.BufferPool {
	return t.pool
}

// Stats returns a snapshot of the tree counters.
func (t *BTree) Stats() map[string]interface{} {
	return map[string]interface{}{
		"name":     t.name,
		"order":    t.meta.order,
		"nodes":    t.meta.numNodes,
		"entries":  t.meta.numEntries,
		"key_type": record.DataType(t.meta.keyType).String(),
	}
}

// allocNode reserves the next block for a fresh node and registers it in
// the arena.
func (t *BTree) allocNode(isLeaf bool) *node {
	n := &node{
		blk:    t.meta.nextBlock,
		isLeaf: isLeaf,
		parent: noBlock,
		prev:   noBlock,
		next:   noBlock,
		dirty:  true,
	}
	t.meta.nextBlock++
	t.meta.numNodes++
	t.nodes[n.blk] = n
	return n
}

// dropNode removes a node from the arena and the node counter. Its block
// is not reused.
func (t *BTree) dropNode(n *node) {
	delete(t.nodes, n.blk)
	t.meta.numNodes--
}

// loadNode returns the node stored at blk, reading it through the pool
// on first access.
func (t *BTree) loadNode(blk int32) (*node, error) {
	if blk == noBlock {
		return nil, fmt.Errorf("%w: no such node", ErrKeyNotFound)
	}
	if n, ok := t.nodes[blk]; ok {
		return n, nil
	}

	ph, err := t.pool.PinPage(int(blk))
	if err != nil {
		return nil, fmt.Errorf("failed to pin node block %d: %w", blk, err)
	}
	defer ph.Unpin()

	n, err := deserializeNode(blk, ph.Data)
	if err != nil {
		return nil, err
	}
	t.nodes[blk] = n
	return n, nil
}

// Flush writes every dirty node and the metadata block back through the
// pool and forces the pool to disk.
func (t *BTree) Flush() error {
	if t.pool == nil {
		return ErrTreeClosed
	}
	// Ascending block order keeps the pool's deferred appends contiguous.
	blocks := make([]int32, 0, len(t.nodes))
	for blk := range t.nodes {
		blocks = append(blocks, blk)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, blk := range blocks {
		n := t.nodes[blk]
		if !n.dirty {
			continue
		}
		ph, err := t.pool.PinPage(int(n.blk))
		if err != nil {
			return fmt.Errorf("failed to pin node block %d: %w", n.blk, err)
		}
		n.serializeInto(ph.Data)
		if err := ph.MarkDirty(); err != nil {
			ph.Unpin()
			return err
		}
		if err := ph.Unpin(); err != nil {
			return err
		}
		n.dirty = false
	}

	ph, err := t.pool.PinPage(0)
	if err != nil {
		return fmt.Errorf("failed to pin index metadata: %w", err)
	}
	t.meta.serialize(ph.Data)
	if err := ph.MarkDirty(); err != nil {
		ph.Unpin()
		return err
	}
	if err := ph.Unpin(); err != nil {
		return err
	}
	return t.pool.ForceFlushPool()
}

// Close flushes the tree and shuts its pool down.
func (t *BTree) Close() error {
	if t.pool == nil {
		return ErrTreeClosed
	}
	if err := t.Flush(); err != nil {
		return err
	}
	if err := t.pool.Shutdown(); err != nil {
		return err
	}
	t.pool = nil
	t.nodes = nil
	return nil
}

// minKeys is the underflow threshold for leaves: ⌈order/2⌉.
func (t *BTree) minKeys() int {
	return (int(t.meta.order) + 1) / 2
}

// splitPos is the number of entries the left node keeps on a split:
// ⌈order/2⌉ + 1.
func (t *BTree) splitPos() int {
	return t.minKeys() + 1
}

// findLeaf descends from the root to the leaf that hosts (or would host)
// key.
func (t *BTree) findLeaf(key int32) (*node, error) {
	if t.meta.rootBlock == noBlock {
		return nil, nil
	}
	n, err := t.loadNode(t.meta.rootBlock)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		i := 0
		for i < len(n.keys) && key >= n.keys[i] {
			i++
		}
		n, err = t.loadNode(n.children[i])
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// FindKey returns the RID stored for key.
func (t *BTree) FindKey(key int32) (record.RID, error) {
	if t.pool == nil {
		return record.RID{}, ErrTreeClosed
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return record.RID{}, err
	}
	if leaf == nil {
		return record.RID{}, fmt.Errorf("%w: %d", ErrKeyNotFound, key)
	}
	for i, k := range leaf.keys {
		if k == key {
			return leaf.rids[i], nil
		}
	}
	return record.RID{}, fmt.Errorf("%w: %d", ErrKeyNotFound, key)
}

// leftmostLeaf returns the first leaf of the chain.
func (t *BTree) leftmostLeaf() (*node, error) {
	if t.meta.rootBlock == noBlock {
		return nil, nil
	}
	n, err := t.loadNode(t.meta.rootBlock)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		n, err = t.loadNode(n.children[0])
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// subtreeMin returns the smallest key below blk.
func (t *BTree) subtreeMin(blk int32) (int32, error) {
	n, err := t.loadNode(blk)
	if err != nil {
		return 0, err
	}
	for !n.isLeaf {
		n, err = t.loadNode(n.children[0])
		if err != nil {
			return 0, err
		}
	}
	if len(n.keys) == 0 {
		return 0, fmt.Errorf("%w: empty subtree", ErrKeyNotFound)
	}
	return n.keys[0], nil
}

// refreshSeparators rewrites the separator keys of every ancestor of n
// so each internal key equals the minimum key of the subtree to its
// right.
func (t *BTree) refreshSeparators(n *node) error {
	for n.parent != noBlock {
		p, err := t.loadNode(n.parent)
		if err != nil {
			return err
		}
		for i := 1; i < len(p.children); i++ {
			min, err := t.subtreeMin(p.children[i])
			if err != nil {
				return err
			}
			if p.keys[i-1] != min {
				p.keys[i-1] = min
				p.dirty = true
			}
		}
		n = p
	}
	return nil
}
