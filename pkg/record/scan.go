package record

import (
	"errors"
	"fmt"
)

// ScanIterator walks the result set of a table scan. The set is
// materialized eagerly when the scan starts; Next hands out the clones
// in insertion order.
type ScanIterator struct {
	records []*Record
	next    int
}

// Scan evaluates cond against every live record and returns an iterator
// over the matches. Tombstoned records and slots past the free-slot
// cursor are skipped. A nil cond matches everything.
func (t *Table) Scan(cond Expr) (*ScanIterator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return nil, ErrTableClosed
	}
	matches, err := t.collect(cond)
	if err != nil {
		return nil, err
	}
	return &ScanIterator{records: matches}, nil
}

// collect materializes the matching records. Caller holds the table lock.
func (t *Table) collect(cond Expr) ([]*Record, error) {
	var matches []*Record
	for page := int32(1); page < t.pageCount; page++ {
		for slot := int32(0); slot < t.slotCapacityPage; slot++ {
			id := RID{Page: page, Slot: slot}
			if !t.beforeFreeSlot(id) {
				break
			}
			rec, err := t.readSlot(id)
			if err != nil {
				return nil, err
			}
			if rec.Tombstoned() {
				continue
			}
			ok, err := evalPredicate(cond, t.schema, rec)
			if err != nil {
				return nil, err
			}
			if ok {
				matches = append(matches, rec)
			}
		}
	}
	return matches, nil
}

// Next fills rec with the next match, returning ErrNoMoreTuples when the
// set is exhausted.
func (s *ScanIterator) Next(rec *Record) error {
	if s.next >= len(s.records) {
		return ErrNoMoreTuples
	}
	src := s.records[s.next]
	s.next++
	rec.ID = src.ID
	rec.NullMap = src.NullMap
	if len(rec.Data) != len(src.Data) {
		rec.Data = make([]byte, len(src.Data))
	}
	copy(rec.Data, src.Data)
	return nil
}

// Remaining returns how many matches Next has not yet handed out.
func (s *ScanIterator) Remaining() int {
	return len(s.records) - s.next
}

// Close releases the materialized result set.
func (s *ScanIterator) Close() {
	s.records = nil
	s.next = 0
}

// UpdateScan applies fn to every record matching cond and rewrites it in
// place.
func (t *Table) UpdateScan(cond Expr, fn func(*Schema, *Record) error) error {
	scan, err := t.Scan(cond)
	if err != nil {
		return err
	}
	defer scan.Close()

	rec := NewRecord(t.schema)
	for {
		if err := scan.Next(rec); err != nil {
			if errors.Is(err, ErrNoMoreTuples) {
				return nil
			}
			return err
		}
		if err := fn(t.schema, rec); err != nil {
			return fmt.Errorf("update callback failed for %s: %w", rec.ID, err)
		}
		if err := t.Update(rec); err != nil {
			return err
		}
	}
}
