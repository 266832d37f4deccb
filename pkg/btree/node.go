package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/etushar89/rdbms-core/pkg/record"
)

const (
	// nodeHeaderSize covers: leaf flag (2), key count (4), parent (4),
	// prev (4), next (4)
	nodeHeaderSize = 18

	// leafEntrySize is one (key, page, slot) triple
	leafEntrySize = 12
)

// node is one tree node in the arena. Leaves carry rids; internal nodes
// carry child block numbers, always len(keys)+1 of them.
type node struct {
	blk    int32
	isLeaf bool
	parent int32
	prev   int32
	next   int32

	keys     []int32
	rids     []record.RID // leaves only
	children []int32      // internal nodes only

	dirty bool
}

// serializeInto packs the node into a page image.
func (n *node) serializeInto(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	if n.isLeaf {
		binary.LittleEndian.PutUint16(buf[0:], 1)
	}
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(n.keys)))
	binary.LittleEndian.PutUint32(buf[6:], uint32(n.parent))
	binary.LittleEndian.PutUint32(buf[10:], uint32(n.prev))
	binary.LittleEndian.PutUint32(buf[14:], uint32(n.next))

	off := nodeHeaderSize
	if n.isLeaf {
		for i, k := range n.keys {
			binary.LittleEndian.PutUint32(buf[off:], uint32(k))
			binary.LittleEndian.PutUint32(buf[off+4:], uint32(n.rids[i].Page))
			binary.LittleEndian.PutUint32(buf[off+8:], uint32(n.rids[i].Slot))
			off += leafEntrySize
		}
		return
	}
	for _, c := range n.children {
		binary.LittleEndian.PutUint32(buf[off:], uint32(c))
		off += 4
	}
	for _, k := range n.keys {
		binary.LittleEndian.PutUint32(buf[off:], uint32(k))
		off += 4
	}
}

// deserializeNode unpacks a page image into a node.
func deserializeNode(blk int32, buf []byte) (*node, error) {
	n := &node{blk: blk}
	n.isLeaf = binary.LittleEndian.Uint16(buf[0:]) == 1
	numKeys := int(binary.LittleEndian.Uint32(buf[2:]))
	n.parent = int32(binary.LittleEndian.Uint32(buf[6:]))
	n.prev = int32(binary.LittleEndian.Uint32(buf[10:]))
	n.next = int32(binary.LittleEndian.Uint32(buf[14:]))

	if numKeys < 0 || nodeHeaderSize+numKeys*leafEntrySize > len(buf) {
		return nil, fmt.Errorf("corrupt node block %d: %d keys", blk, numKeys)
	}

	off := nodeHeaderSize
	n.keys = make([]int32, numKeys)
	if n.isLeaf {
		n.rids = make([]record.RID, numKeys)
		for i := 0; i < numKeys; i++ {
			n.keys[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
			n.rids[i].Page = int32(binary.LittleEndian.Uint32(buf[off+4:]))
			n.rids[i].Slot = int32(binary.LittleEndian.Uint32(buf[off+8:]))
			off += leafEntrySize
		}
		return n, nil
	}

	n.children = make([]int32, numKeys+1)
	for i := range n.children {
		n.children[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	for i := 0; i < numKeys; i++ {
		n.keys[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	return n, nil
}

// insertLeafEntry places (key, rid) in sorted position.
func (n *node) insertLeafEntry(key int32, rid record.RID) {
	i := 0
	for i < len(n.keys) && n.keys[i] < key {
		i++
	}
	n.keys = append(n.keys, 0)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key

	n.rids = append(n.rids, record.RID{})
	copy(n.rids[i+1:], n.rids[i:])
	n.rids[i] = rid

	n.dirty = true
}

// removeLeafEntry drops the entry at position i, shifting the tail down.
func (n *node) removeLeafEntry(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.rids = append(n.rids[:i], n.rids[i+1:]...)
	n.dirty = true
}

// childIndex returns the position of blk among the node's children.
func (n *node) childIndex(blk int32) int {
	for i, c := range n.children {
		if c == blk {
			return i
		}
	}
	return -1
}
