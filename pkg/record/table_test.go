package record

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/etushar89/rdbms-core/pkg/buffer"
	"github.com/etushar89/rdbms-core/pkg/storage"
)

func newTestTableManager(t *testing.T) (*Manager, string) {
	t.Helper()
	sm := storage.NewDefaultManager()
	return NewManager(sm, 8, buffer.LRU), filepath.Join(t.TempDir(), "people")
}

func makeRecord(t *testing.T, s *Schema, a int32, b string, c int32) *Record {
	t.Helper()
	rec := NewRecord(s)
	if err := rec.SetAttr(s, 0, IntValue(a)); err != nil {
		t.Fatalf("Failed to set a: %v", err)
	}
	if err := rec.SetAttr(s, 1, StringValue(b)); err != nil {
		t.Fatalf("Failed to set b: %v", err)
	}
	if err := rec.SetAttr(s, 2, IntValue(c)); err != nil {
		t.Fatalf("Failed to set c: %v", err)
	}
	return rec
}

func TestCreateOpenCloseTable(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, true)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if !m.Exists(name) {
		t.Fatal("Expected table file on disk")
	}
	if !m.StorageManager().Exists(name + IndexFileExt) {
		t.Fatal("Expected index file for keyed schema")
	}

	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	if tbl.NumTuples() != 0 {
		t.Errorf("Expected empty table, got %d tuples", tbl.NumTuples())
	}
	if tbl.Schema().NumAttrs() != 3 {
		t.Errorf("Expected 3 attributes, got %d", tbl.Schema().NumAttrs())
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Failed to close table: %v", err)
	}

	if err := m.DeleteTable(name); err != nil {
		t.Fatalf("Failed to delete table: %v", err)
	}
	if m.Exists(name) || m.StorageManager().Exists(name+IndexFileExt) {
		t.Error("Expected table and index files removed")
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, false)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer tbl.Close()

	rec := makeRecord(t, tbl.Schema(), 1, "aaaa", 3)
	if err := tbl.Insert(rec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if rec.ID.Page != 1 || rec.ID.Slot != 0 {
		t.Errorf("Expected first RID 1.0, got %s", rec.ID)
	}

	got, err := tbl.Get(rec.ID)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	v, _ := got.GetAttr(tbl.Schema(), 1)
	if v.Str != "aaaa" {
		t.Errorf("Expected aaaa, got %q", v.Str)
	}
	if tbl.NumTuples() != 1 {
		t.Errorf("Expected 1 tuple, got %d", tbl.NumTuples())
	}
}

// RIDs stay stable across updates and the updated payload is returned.
func TestUpdateKeepsRID(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, false)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer tbl.Close()

	rec := makeRecord(t, tbl.Schema(), 1, "aaaa", 3)
	if err := tbl.Insert(rec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	id := rec.ID

	rec.SetAttr(tbl.Schema(), 1, StringValue("zzzz"))
	if err := tbl.Update(rec); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if rec.ID != id {
		t.Errorf("Expected RID unchanged, got %s", rec.ID)
	}

	got, err := tbl.Get(id)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	v, _ := got.GetAttr(tbl.Schema(), 1)
	if v.Str != "zzzz" {
		t.Errorf("Expected updated payload, got %q", v.Str)
	}
}

// Scenario: duplicate primary key is rejected and leaves the tuple count
// unchanged.
func TestDuplicatePrimaryKey(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, true)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer tbl.Close()

	if err := tbl.Insert(makeRecord(t, tbl.Schema(), 1, "aaaa", 3)); err != nil {
		t.Fatalf("Failed to insert first: %v", err)
	}
	if err := tbl.Insert(makeRecord(t, tbl.Schema(), 2, "bbbb", 2)); err != nil {
		t.Fatalf("Failed to insert second: %v", err)
	}
	err = tbl.Insert(makeRecord(t, tbl.Schema(), 1, "xxxx", 9))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	if tbl.NumTuples() != 2 {
		t.Errorf("Expected 2 tuples after rejected insert, got %d", tbl.NumTuples())
	}
}

// Deleting a key frees it for re-insertion.
func TestDeleteThenReinsertSamePK(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, true)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer tbl.Close()

	rec := makeRecord(t, tbl.Schema(), 7, "aaaa", 1)
	if err := tbl.Insert(rec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := tbl.Delete(rec.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if tbl.NumTuples() != 0 {
		t.Errorf("Expected 0 tuples after delete, got %d", tbl.NumTuples())
	}
	if err := tbl.Insert(makeRecord(t, tbl.Schema(), 7, "bbbb", 2)); err != nil {
		t.Fatalf("Expected reinsert of deleted key to succeed, got %v", err)
	}
}

func TestLookupPK(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, true)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer tbl.Close()

	rec := makeRecord(t, tbl.Schema(), 5, "aaaa", 1)
	if err := tbl.Insert(rec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	id, found, err := tbl.LookupPK(5)
	if err != nil || !found {
		t.Fatalf("Expected key 5 found, got %v (%v)", found, err)
	}
	if id != rec.ID {
		t.Errorf("Expected RID %s, got %s", rec.ID, id)
	}
	if _, found, _ := tbl.LookupPK(6); found {
		t.Error("Expected key 6 absent")
	}
}

// Tuples and header state survive close/reopen, including page growth
// past the first data page.
func TestPersistenceAcrossReopen(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, false)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}

	// More records than one page can hold (4096/22 = 186 slots).
	const n = 400
	ids := make([]RID, 0, n)
	for i := int32(0); i < n; i++ {
		rec := makeRecord(t, tbl.Schema(), i, "rrrr", i%10)
		if err := tbl.Insert(rec); err != nil {
			t.Fatalf("Failed to insert %d: %v", i, err)
		}
		ids = append(ids, rec.ID)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Failed to close table: %v", err)
	}

	tbl, err = m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to reopen table: %v", err)
	}
	defer tbl.Close()

	if tbl.NumTuples() != n {
		t.Fatalf("Expected %d tuples after reopen, got %d", n, tbl.NumTuples())
	}
	got, err := tbl.Get(ids[250])
	if err != nil {
		t.Fatalf("Failed to get record 250: %v", err)
	}
	v, _ := got.GetAttr(tbl.Schema(), 0)
	if v.Int != 250 {
		t.Errorf("Expected a=250, got %d", v.Int)
	}
}

func TestGetUnassignedRID(t *testing.T) {
	m, name := newTestTableManager(t)
	schema := testSchema(t, false)

	if err := m.CreateTable(name, schema); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer tbl.Close()

	if _, err := tbl.Get(RID{Page: 1, Slot: 0}); !errors.Is(err, ErrNoMoreTuples) {
		t.Errorf("Expected ErrNoMoreTuples for unassigned slot, got %v", err)
	}
	if _, err := tbl.Get(RID{Page: 0, Slot: 0}); !errors.Is(err, ErrNoMoreTuples) {
		t.Errorf("Expected ErrNoMoreTuples for header page, got %v", err)
	}
}

func TestCreateTableValidation(t *testing.T) {
	m, _ := newTestTableManager(t)

	if err := m.CreateTable("", testSchema(t, false)); !errors.Is(err, ErrInvalidTableName) {
		t.Errorf("Expected ErrInvalidTableName, got %v", err)
	}
	if err := m.CreateTable("x", nil); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("Expected ErrInvalidSchema, got %v", err)
	}
}
