package record

import (
	"path/filepath"
	"testing"

	"github.com/etushar89/rdbms-core/pkg/storage"
)

func newTestIndex(t *testing.T) *pkIndex {
	t.Helper()
	sm := storage.NewDefaultManager()
	name := filepath.Join(t.TempDir(), "tbl")
	if err := createPKIndex(sm, name); err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	idx, err := openPKIndex(sm, name)
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	t.Cleanup(func() { idx.close() })
	return idx
}

func TestPKIndexInsertLookup(t *testing.T) {
	idx := newTestIndex(t)

	if err := idx.insert(42, RID{Page: 3, Slot: 5}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	id, found, err := idx.lookup(42)
	if err != nil || !found {
		t.Fatalf("Expected key found, got %v (%v)", found, err)
	}
	if id.Page != 3 || id.Slot != 5 {
		t.Errorf("Expected 3.5, got %s", id)
	}

	if _, found, _ := idx.lookup(43); found {
		t.Error("Expected key 43 absent")
	}
}

// Key zero must be storable: occupancy is tracked as pk+1, not pk.
func TestPKIndexZeroKey(t *testing.T) {
	idx := newTestIndex(t)

	if _, found, _ := idx.lookup(0); found {
		t.Fatal("Expected empty index")
	}
	if err := idx.insert(0, RID{Page: 1, Slot: 0}); err != nil {
		t.Fatalf("Failed to insert key 0: %v", err)
	}
	id, found, err := idx.lookup(0)
	if err != nil || !found {
		t.Fatalf("Expected key 0 found, got %v (%v)", found, err)
	}
	if id.Page != 1 || id.Slot != 0 {
		t.Errorf("Expected 1.0, got %s", id)
	}
}

func TestPKIndexRemove(t *testing.T) {
	idx := newTestIndex(t)

	if err := idx.insert(9, RID{Page: 1, Slot: 2}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := idx.remove(9); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if _, found, _ := idx.lookup(9); found {
		t.Error("Expected key gone after remove")
	}
	// Removing an absent key is a no-op.
	if err := idx.remove(9); err != nil {
		t.Errorf("Expected idempotent remove, got %v", err)
	}
}

// Keys past the first index block force the file to grow.
func TestPKIndexSpansBlocks(t *testing.T) {
	idx := newTestIndex(t)

	big := int32(pkSlotsPerPage*2 + 17)
	if err := idx.insert(big, RID{Page: 8, Slot: 1}); err != nil {
		t.Fatalf("Failed to insert large key: %v", err)
	}
	id, found, err := idx.lookup(big)
	if err != nil || !found {
		t.Fatalf("Expected large key found, got %v (%v)", found, err)
	}
	if id.Page != 8 || id.Slot != 1 {
		t.Errorf("Expected 8.1, got %s", id)
	}

	// A neighbour in the same block stays independent.
	if _, found, _ := idx.lookup(big + 1); found {
		t.Error("Expected neighbour absent")
	}
}

func TestPKIndexNegativeKey(t *testing.T) {
	idx := newTestIndex(t)

	if err := idx.insert(-1, RID{}); err == nil {
		t.Error("Expected error for negative key")
	}
	if _, _, err := idx.lookup(-1); err == nil {
		t.Error("Expected error for negative key lookup")
	}
}
