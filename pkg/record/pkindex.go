package record

import (
	"encoding/binary"
	"fmt"

	"github.com/etushar89/rdbms-core/pkg/storage"
)

// The primary-key index is a flat open-addressed table in its own page
// file. Every slot is 12 bytes: the key (stored as pk+1 so zero means
// empty), then the record's page and slot. A key's canonical position is
// its own value; linear probing resolves any occupied slot, growing the
// file by one block when a probe walks off the end.

const (
	// IndexFileExt is appended to the table name to form the index file name
	IndexFileExt = ".idx"

	// pkSlotSize is the on-disk size of one index slot
	pkSlotSize = 12

	// pkPageBase is the byte offset of the first slot within each block
	pkPageBase = 5

	// pkSlotsPerPage is the number of slots hosted by one block
	pkSlotsPerPage = (storage.PageSize - pkPageBase) / pkSlotSize
)

// pkIndex wraps the open index file of one table.
type pkIndex struct {
	handle *storage.FileHandle
}

// createPKIndex builds an empty index file for the table.
func createPKIndex(mgr *storage.Manager, tableName string) error {
	if err := mgr.CreatePageFile(tableName + IndexFileExt); err != nil {
		return fmt.Errorf("failed to create primary key index: %w", err)
	}
	return nil
}

// openPKIndex opens a table's index file.
func openPKIndex(mgr *storage.Manager, tableName string) (*pkIndex, error) {
	h, err := mgr.OpenPageFile(tableName + IndexFileExt)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary key index: %w", err)
	}
	return &pkIndex{handle: h}, nil
}

// destroyPKIndex removes a table's index file if it exists.
func destroyPKIndex(mgr *storage.Manager, tableName string) error {
	return mgr.DestroyPageFile(tableName + IndexFileExt)
}

func (idx *pkIndex) close() error {
	return idx.handle.Close()
}

// slotPosition returns the block and in-block byte offset of global slot g.
func slotPosition(g int64) (block int, offset int) {
	return int(g / pkSlotsPerPage), pkPageBase + pkSlotSize*int(g%pkSlotsPerPage)
}

// readSlot returns the stored (pk+1, page, slot) triple at global slot g.
// Slots past the end of the file read as empty.
func (idx *pkIndex) readSlot(g int64) (uint32, int32, int32, error) {
	block, off := slotPosition(g)
	if block >= idx.handle.TotalPages() {
		return 0, 0, 0, nil
	}
	buf := make([]byte, storage.PageSize)
	if err := idx.handle.ReadBlock(block, buf); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read index block %d: %w", block, err)
	}
	stored := binary.LittleEndian.Uint32(buf[off:])
	page := int32(binary.LittleEndian.Uint32(buf[off+4:]))
	slot := int32(binary.LittleEndian.Uint32(buf[off+8:]))
	return stored, page, slot, nil
}

// writeSlot stores the triple at global slot g, growing the file as
// needed. A zero stored field clears the slot.
func (idx *pkIndex) writeSlot(g int64, stored uint32, page, slot int32) error {
	block, off := slotPosition(g)
	if err := idx.handle.EnsureCapacity(block + 1); err != nil {
		return fmt.Errorf("failed to grow index file: %w", err)
	}
	buf := make([]byte, storage.PageSize)
	if err := idx.handle.ReadBlock(block, buf); err != nil {
		return fmt.Errorf("failed to read index block %d: %w", block, err)
	}
	binary.LittleEndian.PutUint32(buf[off:], stored)
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(page))
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(slot))
	if err := idx.handle.WriteBlock(block, buf); err != nil {
		return fmt.Errorf("failed to write index block %d: %w", block, err)
	}
	return nil
}

// probe walks from the key's canonical position to the slot holding pk,
// or to the first empty slot when the key is absent. It returns the
// global slot index and whether the key was found.
func (idx *pkIndex) probe(pk int32) (int64, bool, error) {
	g := int64(pk)
	for {
		stored, _, _, err := idx.readSlot(g)
		if err != nil {
			return 0, false, err
		}
		if stored == 0 {
			return g, false, nil
		}
		if stored == uint32(pk)+1 {
			return g, true, nil
		}
		g++
	}
}

// lookup returns the RID stored for pk.
func (idx *pkIndex) lookup(pk int32) (RID, bool, error) {
	if pk < 0 {
		return RID{}, false, fmt.Errorf("%w: negative primary key %d", ErrInvalidAttr, pk)
	}
	g, found, err := idx.probe(pk)
	if err != nil || !found {
		return RID{}, false, err
	}
	_, page, slot, err := idx.readSlot(g)
	if err != nil {
		return RID{}, false, err
	}
	return RID{Page: page, Slot: slot}, true, nil
}

// insert stores pk -> id. The caller is responsible for uniqueness.
func (idx *pkIndex) insert(pk int32, id RID) error {
	if pk < 0 {
		return fmt.Errorf("%w: negative primary key %d", ErrInvalidAttr, pk)
	}
	g, _, err := idx.probe(pk)
	if err != nil {
		return err
	}
	return idx.writeSlot(g, uint32(pk)+1, id.Page, id.Slot)
}

// remove clears the slot for pk so the key can be reused after a delete.
func (idx *pkIndex) remove(pk int32) error {
	if pk < 0 {
		return fmt.Errorf("%w: negative primary key %d", ErrInvalidAttr, pk)
	}
	g, found, err := idx.probe(pk)
	if err != nil || !found {
		return err
	}
	return idx.writeSlot(g, 0, 0, 0)
}
