package btree

import (
	"fmt"

	"github.com/etushar89/rdbms-core/pkg/record"
)

// ScanHandle walks the leaf chain in ascending key order.
type ScanHandle struct {
	tree *BTree
	blk  int32
	pos  int
}

// OpenScan positions a scan at the smallest key.
func (t *BTree) OpenScan() (*ScanHandle, error) {
	if t.pool == nil {
		return nil, ErrTreeClosed
	}
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	s := &ScanHandle{tree: t, blk: noBlock}
	if leaf != nil {
		s.blk = leaf.blk
	}
	return s, nil
}

// Next returns the next entry's key and RID, or ErrNoMoreEntries when
// the chain is exhausted.
func (s *ScanHandle) Next() (int32, record.RID, error) {
	for s.blk != noBlock {
		leaf, err := s.tree.loadNode(s.blk)
		if err != nil {
			return 0, record.RID{}, err
		}
		if s.pos < len(leaf.keys) {
			k, r := leaf.keys[s.pos], leaf.rids[s.pos]
			s.pos++
			return k, r, nil
		}
		s.blk = leaf.next
		s.pos = 0
	}
	return 0, record.RID{}, ErrNoMoreEntries
}

// Close detaches the scan from the tree.
func (s *ScanHandle) Close() {
	s.tree = nil
	s.blk = noBlock
}

// Describe renders the tree level by level for diagnostics: internal
// nodes as their separator keys, leaves as key lists.
func (t *BTree) Describe() (string, error) {
	if t.pool == nil {
		return "", ErrTreeClosed
	}
	if t.meta.rootBlock == noBlock {
		return "(empty)", nil
	}

	out := ""
	level := []int32{t.meta.rootBlock}
	for len(level) > 0 {
		var next []int32
		for i, blk := range level {
			n, err := t.loadNode(blk)
			if err != nil {
				return "", err
			}
			if i > 0 {
				out += " "
			}
			out += fmt.Sprintf("[%d]%v", n.blk, n.keys)
			if !n.isLeaf {
				next = append(next, n.children...)
			}
		}
		out += "\n"
		level = next
	}
	return out, nil
}
