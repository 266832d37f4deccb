package btree

import (
	"github.com/etushar89/rdbms-core/pkg/record"
)

// InsertKey stores key -> rid. Inserting an existing key overwrites its
// RID. A full leaf splits at ⌈order/2⌉+1 and propagates the new leaf's
// first key to the parent, splitting internal nodes on the way up as
// needed.
func (t *BTree) InsertKey(key int32, rid record.RID) error {
	if t.pool == nil {
		return ErrTreeClosed
	}

	// Empty tree: materialize the root as a leaf.
	if t.meta.rootBlock == noBlock {
		root := t.allocNode(true)
		root.insertLeafEntry(key, rid)
		t.meta.rootBlock = root.blk
		t.meta.numEntries++
		return nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	for i, k := range leaf.keys {
		if k == key {
			leaf.rids[i] = rid
			leaf.dirty = true
			return nil
		}
	}

	order := int(t.meta.order)
	if len(leaf.keys) < order {
		leaf.insertLeafEntry(key, rid)
		t.meta.numEntries++
		return t.refreshSeparators(leaf)
	}

	// Split-insert: place the new entry into a scratch copy of
	// order+1 entries, keep the first splitPos in the old leaf and move
	// the rest into a fresh sibling.
	leaf.insertLeafEntry(key, rid)
	sp := t.splitPos()

	right := t.allocNode(true)
	right.keys = append(right.keys, leaf.keys[sp:]...)
	right.rids = append(right.rids, leaf.rids[sp:]...)
	leaf.keys = leaf.keys[:sp]
	leaf.rids = leaf.rids[:sp]
	leaf.dirty = true

	// Link old <-> new in the leaf chain.
	right.next = leaf.next
	right.prev = leaf.blk
	if leaf.next != noBlock {
		after, err := t.loadNode(leaf.next)
		if err != nil {
			return err
		}
		after.prev = right.blk
		after.dirty = true
	}
	leaf.next = right.blk

	t.meta.numEntries++
	if err := t.insertParent(leaf, right, right.keys[0]); err != nil {
		return err
	}
	return t.refreshSeparators(leaf)
}

// insertParent hooks right into left's parent under sepKey, creating a
// new root when left was the root and splitting full internal nodes
// recursively.
func (t *BTree) insertParent(left, right *node, sepKey int32) error {
	if left.parent == noBlock {
		root := t.allocNode(false)
		root.keys = []int32{sepKey}
		root.children = []int32{left.blk, right.blk}
		left.parent = root.blk
		right.parent = root.blk
		left.dirty = true
		right.dirty = true
		t.meta.rootBlock = root.blk
		return nil
	}

	p, err := t.loadNode(left.parent)
	if err != nil {
		return err
	}

	// Insert sepKey and the new child just after left's position.
	pos := p.childIndex(left.blk)
	p.keys = append(p.keys, 0)
	copy(p.keys[pos+1:], p.keys[pos:])
	p.keys[pos] = sepKey
	p.children = append(p.children, 0)
	copy(p.children[pos+2:], p.children[pos+1:])
	p.children[pos+1] = right.blk
	right.parent = p.blk
	right.dirty = true
	p.dirty = true

	if len(p.keys) <= int(t.meta.order) {
		return nil
	}
	return t.splitInternal(p)
}

// splitInternal splits an overfull internal node, promoting its middle
// key into the parent.
func (t *BTree) splitInternal(n *node) error {
	mid := (len(n.keys) + 1) / 2
	promoted := n.keys[mid]

	right := t.allocNode(false)
	right.keys = append(right.keys, n.keys[mid+1:]...)
	right.children = append(right.children, n.children[mid+1:]...)
	right.parent = n.parent

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	n.dirty = true

	for _, c := range right.children {
		child, err := t.loadNode(c)
		if err != nil {
			return err
		}
		child.parent = right.blk
		child.dirty = true
	}

	return t.insertParent(n, right, promoted)
}
