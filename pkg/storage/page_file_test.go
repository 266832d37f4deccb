package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return NewDefaultManager(), filepath.Join(dir, "test.pf")
}

func TestCreateOpenClose(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.CreatePageFile(path); err != nil {
		t.Fatalf("Failed to create page file: %v", err)
	}

	h, err := m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to open page file: %v", err)
	}
	if h.TotalPages() != 1 {
		t.Errorf("Expected 1 page after create, got %d", h.TotalPages())
	}
	if h.GetBlockPos() != 0 {
		t.Errorf("Expected cursor at 0, got %d", h.GetBlockPos())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Failed to close page file: %v", err)
	}

	if err := m.DestroyPageFile(path); err != nil {
		t.Fatalf("Failed to destroy page file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}
}

func TestOpenMissingFile(t *testing.T) {
	m, path := newTestManager(t)

	if _, err := m.OpenPageFile(path); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if err := m.DestroyPageFile(path); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound on destroy, got %v", err)
	}
}

func TestFirstBlockIsZeroFilled(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.CreatePageFile(path); err != nil {
		t.Fatalf("Failed to create page file: %v", err)
	}
	h, err := m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to open page file: %v", err)
	}
	defer h.Close()

	buf := make([]byte, PageSize)
	if err := h.ReadFirstBlock(buf); err != nil {
		t.Fatalf("Failed to read first block: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, PageSize)) {
		t.Error("Expected first block to be zero-filled")
	}
}

func TestReadWriteOutOfRange(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.CreatePageFile(path); err != nil {
		t.Fatalf("Failed to create page file: %v", err)
	}
	h, err := m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to open page file: %v", err)
	}
	defer h.Close()

	buf := make([]byte, PageSize)
	if err := h.ReadBlock(1, buf); !errors.Is(err, ErrReadNonExistingPage) {
		t.Errorf("Expected ErrReadNonExistingPage, got %v", err)
	}
	if err := h.ReadBlock(-1, buf); !errors.Is(err, ErrReadNonExistingPage) {
		t.Errorf("Expected ErrReadNonExistingPage for negative index, got %v", err)
	}
	if err := h.WriteBlock(1, buf); !errors.Is(err, ErrWriteNonExistingPage) {
		t.Errorf("Expected ErrWriteNonExistingPage, got %v", err)
	}
}

// Round-trip a short payload through block 2 across a close/reopen, the
// way the table layer persists its header page.
func TestWriteReadRoundTripAcrossReopen(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.CreatePageFile(path); err != nil {
		t.Fatalf("Failed to create page file: %v", err)
	}
	h, err := m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to open page file: %v", err)
	}

	if err := h.EnsureCapacity(3); err != nil {
		t.Fatalf("Failed to ensure capacity: %v", err)
	}
	if h.TotalPages() != 3 {
		t.Fatalf("Expected 3 pages, got %d", h.TotalPages())
	}
	if err := h.WriteBlock(2, []byte("abc")); err != nil {
		t.Fatalf("Failed to write block 2: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	h, err = m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer h.Close()

	if h.TotalPages() != 3 {
		t.Errorf("Expected 3 pages after reopen, got %d", h.TotalPages())
	}
	buf := make([]byte, PageSize)
	if err := h.ReadBlock(2, buf); err != nil {
		t.Fatalf("Failed to read block 2: %v", err)
	}
	want := make([]byte, PageSize)
	copy(want, "abc")
	if !bytes.Equal(buf, want) {
		t.Error("Expected zero-padded payload round-trip")
	}
}

func TestEnsureCapacityNoShrink(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.CreatePageFile(path); err != nil {
		t.Fatalf("Failed to create page file: %v", err)
	}
	h, err := m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to open page file: %v", err)
	}
	defer h.Close()

	if err := h.EnsureCapacity(5); err != nil {
		t.Fatalf("Failed to grow: %v", err)
	}
	if err := h.EnsureCapacity(2); err != nil {
		t.Fatalf("EnsureCapacity below current size should be a no-op: %v", err)
	}
	if h.TotalPages() != 5 {
		t.Errorf("Expected 5 pages, got %d", h.TotalPages())
	}
}

func TestCursorReads(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.CreatePageFile(path); err != nil {
		t.Fatalf("Failed to create page file: %v", err)
	}
	h, err := m.OpenPageFile(path)
	if err != nil {
		t.Fatalf("Failed to open page file: %v", err)
	}
	defer h.Close()

	if err := h.EnsureCapacity(4); err != nil {
		t.Fatalf("Failed to grow: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := h.WriteBlock(i, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("Failed to write block %d: %v", i, err)
		}
	}

	buf := make([]byte, PageSize)

	if err := h.ReadFirstBlock(buf); err != nil {
		t.Fatalf("ReadFirstBlock: %v", err)
	}
	if buf[0] != 'a' || h.GetBlockPos() != 0 {
		t.Errorf("ReadFirstBlock got %q at pos %d", buf[0], h.GetBlockPos())
	}

	if err := h.ReadNextBlock(buf); err != nil {
		t.Fatalf("ReadNextBlock: %v", err)
	}
	if buf[0] != 'b' || h.GetBlockPos() != 1 {
		t.Errorf("ReadNextBlock got %q at pos %d", buf[0], h.GetBlockPos())
	}

	if err := h.ReadLastBlock(buf); err != nil {
		t.Fatalf("ReadLastBlock: %v", err)
	}
	if buf[0] != 'd' || h.GetBlockPos() != 3 {
		t.Errorf("ReadLastBlock got %q at pos %d", buf[0], h.GetBlockPos())
	}

	if err := h.ReadPreviousBlock(buf); err != nil {
		t.Fatalf("ReadPreviousBlock: %v", err)
	}
	if buf[0] != 'c' || h.GetBlockPos() != 2 {
		t.Errorf("ReadPreviousBlock got %q at pos %d", buf[0], h.GetBlockPos())
	}

	if err := h.ReadCurrentBlock(buf); err != nil {
		t.Fatalf("ReadCurrentBlock: %v", err)
	}
	if buf[0] != 'c' {
		t.Errorf("ReadCurrentBlock got %q", buf[0])
	}

	if err := h.WriteCurrentBlock([]byte{'z'}); err != nil {
		t.Fatalf("WriteCurrentBlock: %v", err)
	}
	if err := h.ReadCurrentBlock(buf); err != nil {
		t.Fatalf("ReadCurrentBlock after write: %v", err)
	}
	if buf[0] != 'z' {
		t.Errorf("Expected overwritten block, got %q", buf[0])
	}

	if err := h.ReadPreviousBlock(buf); err != nil {
		t.Fatalf("ReadPreviousBlock: %v", err)
	}
	if err := h.ReadPreviousBlock(buf); err != nil {
		t.Fatalf("ReadPreviousBlock: %v", err)
	}
	if err := h.ReadPreviousBlock(buf); !errors.Is(err, ErrReadNonExistingPage) {
		t.Errorf("Expected ErrReadNonExistingPage before block 0, got %v", err)
	}
}

func TestMemFSRoundTrip(t *testing.T) {
	fs := NewMemFS()
	m := NewManager(fs)

	if err := m.CreatePageFile("mem.pf"); err != nil {
		t.Fatalf("Failed to create in-memory page file: %v", err)
	}
	h, err := m.OpenPageFile("mem.pf")
	if err != nil {
		t.Fatalf("Failed to open in-memory page file: %v", err)
	}
	if err := h.AppendEmptyBlock(); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := h.WriteBlock(1, []byte("hello")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	h, err = m.OpenPageFile("mem.pf")
	if err != nil {
		t.Fatalf("Failed to reopen in-memory page file: %v", err)
	}
	defer h.Close()
	if h.TotalPages() != 2 {
		t.Errorf("Expected 2 pages, got %d", h.TotalPages())
	}
	buf := make([]byte, PageSize)
	if err := h.ReadBlock(1, buf); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if !bytes.HasPrefix(buf, []byte("hello")) {
		t.Error("Expected payload to survive reopen")
	}
}
