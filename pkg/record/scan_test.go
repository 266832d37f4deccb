package record

import (
	"errors"
	"testing"
)

// seedRows loads ten rows; c == 1 exactly where a is 3 or 6.
func seedRows(t *testing.T, tbl *Table) {
	t.Helper()
	cVals := map[int32]int32{1: 3, 2: 2, 3: 1, 4: 8, 5: 5, 6: 1, 7: 3, 8: 2, 9: 9, 10: 5}
	for a := int32(1); a <= 10; a++ {
		rec := makeRecord(t, tbl.Schema(), a, "rrrr", cVals[a])
		if err := tbl.Insert(rec); err != nil {
			t.Fatalf("Failed to insert row %d: %v", a, err)
		}
	}
	// a=3 and a=6 carry c=1
	if cVals[3] != 1 || cVals[6] != 1 {
		t.Fatal("test fixture broken")
	}
}

func openSeeded(t *testing.T) *Table {
	t.Helper()
	m, name := newTestTableManager(t)
	if err := m.CreateTable(name, testSchema(t, false)); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	tbl, err := m.OpenTable(name)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	seedRows(t, tbl)
	return tbl
}

func TestScanWithPredicate(t *testing.T) {
	tbl := openSeeded(t)

	// c == 1
	cond := Equals(Attr(2), Const(IntValue(1)))
	scan, err := tbl.Scan(cond)
	if err != nil {
		t.Fatalf("Failed to start scan: %v", err)
	}
	defer scan.Close()

	var got []int32
	rec := NewRecord(tbl.Schema())
	for {
		err := scan.Next(rec)
		if errors.Is(err, ErrNoMoreTuples) {
			break
		}
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		v, _ := rec.GetAttr(tbl.Schema(), 0)
		got = append(got, v.Int)
	}

	if len(got) != 2 || got[0] != 3 || got[1] != 6 {
		t.Errorf("Expected rows a=3,6, got %v", got)
	}
}

func TestScanAll(t *testing.T) {
	tbl := openSeeded(t)

	scan, err := tbl.Scan(nil)
	if err != nil {
		t.Fatalf("Failed to start scan: %v", err)
	}
	defer scan.Close()

	if scan.Remaining() != 10 {
		t.Errorf("Expected 10 matches, got %d", scan.Remaining())
	}
}

// Deleted records never show up in a scan, even with a tautological
// predicate.
func TestScanHidesTombstones(t *testing.T) {
	tbl := openSeeded(t)

	rec, err := tbl.Get(RID{Page: 1, Slot: 4})
	if err != nil {
		t.Fatalf("Failed to get victim: %v", err)
	}
	if err := tbl.Delete(rec.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	scan, err := tbl.Scan(Const(BoolValue(true)))
	if err != nil {
		t.Fatalf("Failed to start scan: %v", err)
	}
	defer scan.Close()

	out := NewRecord(tbl.Schema())
	for {
		err := scan.Next(out)
		if errors.Is(err, ErrNoMoreTuples) {
			break
		}
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if out.ID == rec.ID {
			t.Fatalf("Deleted record %s returned by scan", out.ID)
		}
	}
	if tbl.NumTuples() != 9 {
		t.Errorf("Expected 9 tuples, got %d", tbl.NumTuples())
	}
}

func TestScanComplexPredicate(t *testing.T) {
	tbl := openSeeded(t)

	// a < 5 AND NOT (c = 1)  →  a ∈ {1,2,4}
	cond := And(
		Less(Attr(0), Const(IntValue(5))),
		Not(Equals(Attr(2), Const(IntValue(1)))),
	)
	scan, err := tbl.Scan(cond)
	if err != nil {
		t.Fatalf("Failed to start scan: %v", err)
	}
	defer scan.Close()

	var got []int32
	rec := NewRecord(tbl.Schema())
	for {
		err := scan.Next(rec)
		if errors.Is(err, ErrNoMoreTuples) {
			break
		}
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		v, _ := rec.GetAttr(tbl.Schema(), 0)
		got = append(got, v.Int)
	}
	want := []int32{1, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestUpdateScan(t *testing.T) {
	tbl := openSeeded(t)

	// Rewrite c to 99 wherever c == 1.
	cond := Equals(Attr(2), Const(IntValue(1)))
	err := tbl.UpdateScan(cond, func(s *Schema, rec *Record) error {
		return rec.SetAttr(s, 2, IntValue(99))
	})
	if err != nil {
		t.Fatalf("UpdateScan failed: %v", err)
	}

	scan, err := tbl.Scan(Equals(Attr(2), Const(IntValue(99))))
	if err != nil {
		t.Fatalf("Failed to verify: %v", err)
	}
	defer scan.Close()
	if scan.Remaining() != 2 {
		t.Errorf("Expected 2 rewritten rows, got %d", scan.Remaining())
	}

	scan2, err := tbl.Scan(cond)
	if err != nil {
		t.Fatalf("Failed to verify old value gone: %v", err)
	}
	defer scan2.Close()
	if scan2.Remaining() != 0 {
		t.Errorf("Expected no rows with c=1, got %d", scan2.Remaining())
	}
}

func TestScanStringEquality(t *testing.T) {
	tbl := openSeeded(t)

	// Every row stores "rrrr", which fills the STRING(4) field exactly.
	scan, err := tbl.Scan(Equals(Attr(1), Const(StringValue("rrrr"))))
	if err != nil {
		t.Fatalf("Failed to start scan: %v", err)
	}
	defer scan.Close()
	if scan.Remaining() != 10 {
		t.Errorf("Expected all 10 rows to match, got %d", scan.Remaining())
	}
}
