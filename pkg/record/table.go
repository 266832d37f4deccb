package record

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/etushar89/rdbms-core/pkg/buffer"
	"github.com/etushar89/rdbms-core/pkg/storage"
)

// tableHeaderFixedSize is the fixed part of the header page: ten
// little-endian uint32 fields ahead of the table name and schema blob.
const tableHeaderFixedSize = 40

// Manager opens tables over a storage backend with a shared buffer-pool
// configuration.
type Manager struct {
	sm       *storage.Manager
	frames   int
	strategy buffer.ReplacementStrategy
}

// NewManager creates a record manager. frames and strategy configure the
// buffer pool each opened table runs on.
func NewManager(sm *storage.Manager, frames int, strategy buffer.ReplacementStrategy) *Manager {
	return &Manager{sm: sm, frames: frames, strategy: strategy}
}

// Table is an open relation: its schema, the buffer pool over its page
// file, the free-slot cursor, and the optional primary-key index.
type Table struct {
	mu     sync.Mutex
	name   string
	schema *Schema
	pool   *buffer.BufferPool
	idx    *pkIndex

	pageCount          int32
	tupleCount         int32
	slotCapacityPage   int32
	availBytesLastPage int32
	freeSlot           RID

	headerDirty bool
}

// CreateTable builds the table's page file: a header page carrying the
// serialized schema, followed by one empty data page. Schemas with a
// primary key also get a sibling index file.
func (m *Manager) CreateTable(name string, schema *Schema) error {
	if name == "" {
		return ErrInvalidTableName
	}
	if schema == nil {
		return ErrInvalidSchema
	}
	if int(schema.PhysRecordSize()) > storage.PageSize {
		return fmt.Errorf("%w: record of %d bytes exceeds page size", ErrInvalidSchema, schema.PhysRecordSize())
	}

	if err := m.sm.CreatePageFile(name); err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	h, err := m.sm.OpenPageFile(name)
	if err != nil {
		return fmt.Errorf("failed to open new table file: %w", err)
	}
	defer h.Close()

	// header page plus the first, empty data page
	if err := h.EnsureCapacity(2); err != nil {
		return fmt.Errorf("failed to size new table file: %w", err)
	}

	t := &Table{
		name:               name,
		schema:             schema,
		pageCount:          2,
		tupleCount:         0,
		slotCapacityPage:   int32(storage.PageSize) / schema.PhysRecordSize(),
		availBytesLastPage: int32(storage.PageSize),
		freeSlot:           RID{Page: 1, Slot: 0},
	}
	header := t.serializeHeader()
	if err := h.WriteBlock(0, header); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}

	if schema.HasPrimaryKey() {
		if err := createPKIndex(m.sm, name); err != nil {
			return err
		}
	}
	return nil
}

// OpenTable opens an existing table, reading its header page through a
// fresh buffer pool.
func (m *Manager) OpenTable(name string) (*Table, error) {
	if name == "" {
		return nil, ErrInvalidTableName
	}

	pool, err := buffer.NewBufferPool(m.sm, name, m.frames, m.strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", name, err)
	}

	t := &Table{name: name, pool: pool}
	ph, err := pool.PinPage(0)
	if err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("failed to pin table header: %w", err)
	}
	parseErr := t.parseHeader(ph.Data)
	if err := ph.Unpin(); err != nil {
		pool.Shutdown()
		return nil, err
	}
	if parseErr != nil {
		pool.Shutdown()
		return nil, parseErr
	}

	if t.schema.HasPrimaryKey() {
		idx, err := openPKIndex(m.sm, name)
		if err != nil {
			pool.Shutdown()
			return nil, err
		}
		t.idx = idx
	}
	return t, nil
}

// DeleteTable removes a table's page file and, if present, its index file.
func (m *Manager) DeleteTable(name string) error {
	if name == "" {
		return ErrInvalidTableName
	}
	if err := m.sm.DestroyPageFile(name); err != nil {
		return fmt.Errorf("failed to delete table %s: %w", name, err)
	}
	if m.sm.Exists(name + IndexFileExt) {
		return destroyPKIndex(m.sm, name)
	}
	return nil
}

// DeleteIndex removes a table's primary-key index file.
func (m *Manager) DeleteIndex(name string) error {
	if name == "" {
		return ErrInvalidTableName
	}
	return destroyPKIndex(m.sm, name)
}

// Exists reports whether a table file with the given name exists.
func (m *Manager) Exists(name string) bool {
	return m.sm.Exists(name)
}

// StorageManager exposes the underlying storage manager.
func (m *Manager) StorageManager() *storage.Manager {
	return m.sm
}

// serializeHeader packs the header page: the ten fixed fields, the table
// name and the schema blob.
func (t *Table) serializeHeader() []byte {
	schemaBlob := t.schema.serialize(nil)
	buf := make([]byte, storage.PageSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(t.pageCount))
	binary.LittleEndian.PutUint32(buf[4:], uint32(t.tupleCount))
	binary.LittleEndian.PutUint32(buf[8:], uint32(t.schema.RecordSize()))
	binary.LittleEndian.PutUint32(buf[12:], uint32(t.schema.PhysRecordSize()))
	binary.LittleEndian.PutUint32(buf[16:], uint32(t.slotCapacityPage))
	binary.LittleEndian.PutUint32(buf[20:], uint32(t.availBytesLastPage))
	binary.LittleEndian.PutUint32(buf[24:], uint32(t.freeSlot.Page))
	binary.LittleEndian.PutUint32(buf[28:], uint32(t.freeSlot.Slot))
	base := filepath.Base(t.name)
	binary.LittleEndian.PutUint32(buf[32:], uint32(len(base)))
	binary.LittleEndian.PutUint32(buf[36:], uint32(len(schemaBlob)))
	copy(buf[tableHeaderFixedSize:], base)
	copy(buf[tableHeaderFixedSize+len(base):], schemaBlob)
	return buf
}

// parseHeader unpacks the header page into the table state.
func (t *Table) parseHeader(buf []byte) error {
	t.pageCount = int32(binary.LittleEndian.Uint32(buf[0:]))
	t.tupleCount = int32(binary.LittleEndian.Uint32(buf[4:]))
	recordSize := int32(binary.LittleEndian.Uint32(buf[8:]))
	physRecordSize := int32(binary.LittleEndian.Uint32(buf[12:]))
	t.slotCapacityPage = int32(binary.LittleEndian.Uint32(buf[16:]))
	t.availBytesLastPage = int32(binary.LittleEndian.Uint32(buf[20:]))
	t.freeSlot.Page = int32(binary.LittleEndian.Uint32(buf[24:]))
	t.freeSlot.Slot = int32(binary.LittleEndian.Uint32(buf[28:]))
	nameSize := binary.LittleEndian.Uint32(buf[32:])
	schemaSize := binary.LittleEndian.Uint32(buf[36:])

	if int(tableHeaderFixedSize+nameSize+schemaSize) > len(buf) {
		return fmt.Errorf("%w: header overruns page", ErrInvalidSchema)
	}
	storedName := string(buf[tableHeaderFixedSize : tableHeaderFixedSize+nameSize])
	if storedName != filepath.Base(t.name) {
		return fmt.Errorf("%w: file holds table %q", ErrInvalidTableName, storedName)
	}

	schema, err := deserializeSchema(buf[tableHeaderFixedSize+nameSize : tableHeaderFixedSize+nameSize+schemaSize])
	if err != nil {
		return err
	}
	t.schema = schema
	if schema.RecordSize() != recordSize || schema.PhysRecordSize() != physRecordSize {
		return fmt.Errorf("%w: header sizes disagree with schema", ErrInvalidSchema)
	}
	return nil
}

// writeHeader rewrites the header page through the pool.
func (t *Table) writeHeader() error {
	ph, err := t.pool.PinPage(0)
	if err != nil {
		return fmt.Errorf("failed to pin table header: %w", err)
	}
	defer ph.Unpin()

	copy(ph.Data, t.serializeHeader())
	if err := ph.MarkDirty(); err != nil {
		return err
	}
	t.headerDirty = false
	return nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema {
	return t.schema
}

// NumTuples returns the live record count.
func (t *Table) NumTuples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.tupleCount)
}

// Pool exposes the table's buffer pool for diagnostics.
func (t *Table) Pool() *buffer.BufferPool {
	return t.pool
}

// Close flushes the header and shuts the buffer pool down. Tables must
// be closed before process exit or header updates are lost.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return ErrTableClosed
	}
	if t.headerDirty {
		if err := t.writeHeader(); err != nil {
			return err
		}
	}
	if err := t.pool.ForceFlushPool(); err != nil {
		return err
	}
	if err := t.pool.Shutdown(); err != nil {
		return err
	}
	t.pool = nil
	if t.idx != nil {
		if err := t.idx.close(); err != nil {
			return err
		}
		t.idx = nil
	}
	return nil
}

// pkValue extracts the primary-key attribute of rec as an int.
func (t *Table) pkValue(rec *Record) (int32, error) {
	v, err := rec.GetAttr(t.schema, int(t.schema.KeyAttrs[0]))
	if err != nil {
		return 0, err
	}
	if v.IsNull {
		return 0, fmt.Errorf("%w: primary key is NULL", ErrInvalidAttr)
	}
	return v.Int, nil
}

// slotOffset returns the byte offset of slot s within a data page.
func (t *Table) slotOffset(s int32) int {
	return int(s * t.schema.PhysRecordSize())
}

// writeSlot serializes rec into its slot, pinning the page through the
// pool.
func (t *Table) writeSlot(rec *Record) error {
	ph, err := t.pool.PinPage(int(rec.ID.Page))
	if err != nil {
		return fmt.Errorf("failed to pin data page %d: %w", rec.ID.Page, err)
	}
	defer ph.Unpin()

	off := t.slotOffset(rec.ID.Slot)
	rec.serializeInto(ph.Data[off : off+int(t.schema.PhysRecordSize())])
	return ph.MarkDirty()
}

// readSlot deserializes the record stored at id.
func (t *Table) readSlot(id RID) (*Record, error) {
	ph, err := t.pool.PinPage(int(id.Page))
	if err != nil {
		return nil, fmt.Errorf("failed to pin data page %d: %w", id.Page, err)
	}
	defer ph.Unpin()

	off := t.slotOffset(id.Slot)
	rec := deserializeRecord(t.schema, ph.Data[off:off+int(t.schema.PhysRecordSize())])
	rec.ID = id
	return rec, nil
}

// validRID checks id against the table's current extent.
func (t *Table) validRID(id RID) error {
	if id.Page < 1 || id.Page >= t.pageCount || id.Slot < 0 || id.Slot >= t.slotCapacityPage {
		return fmt.Errorf("%w: rid %s out of range", ErrNoMoreTuples, id)
	}
	return nil
}

// beforeFreeSlot reports whether id addresses a slot that has ever been
// handed out.
func (t *Table) beforeFreeSlot(id RID) bool {
	return id.Page < t.freeSlot.Page ||
		(id.Page == t.freeSlot.Page && id.Slot < t.freeSlot.Slot)
}

// Insert stamps rec with the next free RID, writes it and advances the
// cursor. With a primary key declared, duplicates are rejected before
// any mutation.
func (t *Table) Insert(rec *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return ErrTableClosed
	}

	var pk int32
	if t.schema.HasPrimaryKey() {
		var err error
		pk, err = t.pkValue(rec)
		if err != nil {
			return err
		}
		if _, found, err := t.idx.lookup(pk); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, pk)
		}
	}

	// Move to a fresh page when the current one is full. Pinning the new
	// page appends it through the pool's deferred-append path.
	if t.freeSlot.Slot >= t.slotCapacityPage {
		ph, err := t.pool.PinPage(int(t.pageCount))
		if err != nil {
			return fmt.Errorf("failed to extend table: %w", err)
		}
		if err := ph.MarkDirty(); err != nil {
			ph.Unpin()
			return err
		}
		if err := ph.Unpin(); err != nil {
			return err
		}
		t.freeSlot = RID{Page: t.pageCount, Slot: 0}
		t.pageCount++
		t.availBytesLastPage = int32(storage.PageSize)
	}

	rec.ID = t.freeSlot
	t.freeSlot.Slot++
	t.availBytesLastPage -= t.schema.PhysRecordSize()

	if err := t.writeSlot(rec); err != nil {
		return err
	}

	if t.schema.HasPrimaryKey() {
		if err := t.idx.insert(pk, rec.ID); err != nil {
			return err
		}
	}

	t.tupleCount++
	t.headerDirty = true
	return nil
}

// Get reads the record stored at id. Tombstoned records are returned
// with the tombstone bit set; scans are responsible for hiding them.
func (t *Table) Get(id RID) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return nil, ErrTableClosed
	}
	if err := t.validRID(id); err != nil {
		return nil, err
	}
	if !t.beforeFreeSlot(id) {
		return nil, fmt.Errorf("%w: rid %s was never assigned", ErrNoMoreTuples, id)
	}
	return t.readSlot(id)
}

// Delete tombstones the record at id, clears its primary-key entry and
// decrements the live tuple count.
func (t *Table) Delete(id RID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return ErrTableClosed
	}
	if err := t.validRID(id); err != nil {
		return err
	}
	rec, err := t.readSlot(id)
	if err != nil {
		return err
	}
	if rec.Tombstoned() {
		return nil
	}

	if t.schema.HasPrimaryKey() {
		pk, err := t.pkValue(rec)
		if err != nil {
			return err
		}
		if err := t.idx.remove(pk); err != nil {
			return err
		}
	}

	rec.setTombstone()
	if err := t.writeSlot(rec); err != nil {
		return err
	}
	t.tupleCount--
	t.headerDirty = true
	return nil
}

// Update rewrites the record at rec.ID in place. A changed primary key
// is checked for uniqueness and the index is moved to the new value.
func (t *Table) Update(rec *Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return ErrTableClosed
	}
	if err := t.validRID(rec.ID); err != nil {
		return err
	}

	if t.schema.HasPrimaryKey() {
		newPK, err := t.pkValue(rec)
		if err != nil {
			return err
		}
		old, err := t.readSlot(rec.ID)
		if err != nil {
			return err
		}
		oldPK, err := t.pkValue(old)
		if err != nil {
			return err
		}
		if newPK != oldPK {
			if _, found, err := t.idx.lookup(newPK); err != nil {
				return err
			} else if found {
				return fmt.Errorf("%w: %d", ErrDuplicateKey, newPK)
			}
			if err := t.idx.remove(oldPK); err != nil {
				return err
			}
			if err := t.idx.insert(newPK, rec.ID); err != nil {
				return err
			}
		}
	}

	if err := t.writeSlot(rec); err != nil {
		return err
	}
	t.headerDirty = true
	return nil
}

// LookupPK resolves a primary-key value to its RID through the index.
func (t *Table) LookupPK(pk int32) (RID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pool == nil {
		return RID{}, false, ErrTableClosed
	}
	if !t.schema.HasPrimaryKey() {
		return RID{}, false, fmt.Errorf("%w: table has no primary key", ErrInvalidSchema)
	}
	return t.idx.lookup(pk)
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"name":            t.name,
		"tuples":          t.tupleCount,
		"pages":           t.pageCount,
		"record_size":     t.schema.RecordSize(),
		"slots_per_page":  t.slotCapacityPage,
		"free_slot":       t.freeSlot.String(),
		"has_primary_key": t.schema.HasPrimaryKey(),
	}
}
