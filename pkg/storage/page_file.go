package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Manager creates, opens and destroys page files on a FileSystem backend.
type Manager struct {
	fs FileSystem
}

// NewManager creates a storage manager over the given backend.
func NewManager(fs FileSystem) *Manager {
	return &Manager{fs: fs}
}

// NewDefaultManager creates a storage manager over the OS filesystem.
func NewDefaultManager() *Manager {
	return &Manager{fs: OSFileSystem{}}
}

// FileHandle is an open page file: its name, the cursor used by the
// relative read operations, and the cached total block count. The block
// count header is written back on Close when it changed.
type FileHandle struct {
	fileName      string
	curPagePos    int
	totalNumPages int
	file          blockFile
	metaChanged   bool
}

// blockOffset returns the byte offset of block n
func blockOffset(n int) int64 {
	return MetaFieldSize + int64(n)*PageSize
}

func encodeMeta(totalPages int) []byte {
	return []byte(fmt.Sprintf("%0*d", MetaFieldSize, totalPages))
}

func decodeMeta(meta []byte) (int, error) {
	s := strings.TrimRight(string(meta), "\x00")
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: bad block count header %q", ErrReadFailed, s)
	}
	return n, nil
}

// CreatePageFile creates a page file holding one zero-filled block.
// An existing file with the same name is truncated.
func (m *Manager) CreatePageFile(name string) error {
	f, err := m.fs.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create page file %s: %w", name, err)
	}

	if _, err := f.WriteAt(encodeMeta(1), 0); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing header of %s: %v", ErrWriteFailed, name, err)
	}
	zero := make([]byte, PageSize)
	if _, err := f.WriteAt(zero, blockOffset(0)); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing first block of %s: %v", ErrWriteFailed, name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync page file %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileCloseFailed, name, err)
	}
	return nil
}

// OpenPageFile opens an existing page file and reads its block count.
func (m *Manager) OpenPageFile(name string) (*FileHandle, error) {
	if !m.fs.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	f, err := m.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileNotFound, name, err)
	}

	meta := make([]byte, MetaFieldSize)
	if _, err := f.ReadAt(meta, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: reading header of %s: %v", ErrReadFailed, name, err)
	}
	total, err := decodeMeta(meta)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileHandle{
		fileName:      name,
		curPagePos:    0,
		totalNumPages: total,
		file:          f,
	}, nil
}

// Exists reports whether a page file with the given name exists.
func (m *Manager) Exists(name string) bool {
	return m.fs.Exists(name)
}

// DestroyPageFile removes a page file from the backend.
func (m *Manager) DestroyPageFile(name string) error {
	if !m.fs.Exists(name) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err := m.fs.Destroy(name); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileDeleteFailed, name, err)
	}
	return nil
}

// FileName returns the name the handle was opened with.
func (h *FileHandle) FileName() string {
	return h.fileName
}

// TotalPages returns the cached total block count.
func (h *FileHandle) TotalPages() int {
	if h == nil {
		return 0
	}
	return h.totalNumPages
}

// GetBlockPos returns the current block cursor.
func (h *FileHandle) GetBlockPos() int {
	return h.curPagePos
}

// writeMeta rewrites the block count header and syncs it to disk.
func (h *FileHandle) writeMeta() error {
	if _, err := h.file.WriteAt(encodeMeta(h.totalNumPages), 0); err != nil {
		return fmt.Errorf("%w: updating header of %s: %v", ErrWriteFailed, h.fileName, err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", h.fileName, err)
	}
	h.metaChanged = false
	return nil
}

// Close writes back the header if it changed and closes the file.
func (h *FileHandle) Close() error {
	if h == nil || h.file == nil {
		return ErrHandleNotInit
	}
	if h.metaChanged {
		if err := h.writeMeta(); err != nil {
			h.file.Close()
			return err
		}
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileCloseFailed, h.fileName, err)
	}
	h.file = nil
	return nil
}

// ReadBlock reads block n into buf. buf must be at least PageSize bytes.
// The cursor moves to the block read.
func (h *FileHandle) ReadBlock(n int, buf []byte) error {
	if h == nil || h.file == nil {
		return ErrHandleNotInit
	}
	if n < 0 || n >= h.totalNumPages {
		return fmt.Errorf("%w: block %d of %d", ErrReadNonExistingPage, n, h.totalNumPages)
	}
	if _, err := h.file.ReadAt(buf[:PageSize], blockOffset(n)); err != nil {
		return fmt.Errorf("%w: block %d of %s: %v", ErrReadFailed, n, h.fileName, err)
	}
	h.curPagePos = n
	return nil
}

// ReadFirstBlock reads block 0.
func (h *FileHandle) ReadFirstBlock(buf []byte) error {
	return h.ReadBlock(0, buf)
}

// ReadPreviousBlock reads the block before the cursor.
func (h *FileHandle) ReadPreviousBlock(buf []byte) error {
	return h.ReadBlock(h.curPagePos-1, buf)
}

// ReadCurrentBlock reads the block at the cursor.
func (h *FileHandle) ReadCurrentBlock(buf []byte) error {
	return h.ReadBlock(h.curPagePos, buf)
}

// ReadNextBlock reads the block after the cursor.
func (h *FileHandle) ReadNextBlock(buf []byte) error {
	return h.ReadBlock(h.curPagePos+1, buf)
}

// ReadLastBlock reads the final block.
func (h *FileHandle) ReadLastBlock(buf []byte) error {
	return h.ReadBlock(h.totalNumPages-1, buf)
}

// WriteBlock writes buf to block n. Shorter buffers are zero-padded to
// PageSize. The cursor moves to the block written.
func (h *FileHandle) WriteBlock(n int, buf []byte) error {
	if h == nil || h.file == nil {
		return ErrHandleNotInit
	}
	if n < 0 || n >= h.totalNumPages {
		return fmt.Errorf("%w: block %d of %d", ErrWriteNonExistingPage, n, h.totalNumPages)
	}

	page := buf
	if len(buf) < PageSize {
		page = make([]byte, PageSize)
		copy(page, buf)
	} else {
		page = buf[:PageSize]
	}
	if _, err := h.file.WriteAt(page, blockOffset(n)); err != nil {
		return fmt.Errorf("%w: block %d of %s: %v", ErrWriteFailed, n, h.fileName, err)
	}
	h.curPagePos = n
	return nil
}

// WriteCurrentBlock writes buf to the block at the cursor.
func (h *FileHandle) WriteCurrentBlock(buf []byte) error {
	return h.WriteBlock(h.curPagePos, buf)
}

// AppendEmptyBlock extends the file by one zero-filled block.
func (h *FileHandle) AppendEmptyBlock() error {
	if h == nil || h.file == nil {
		return ErrHandleNotInit
	}
	zero := make([]byte, PageSize)
	if _, err := h.file.WriteAt(zero, blockOffset(h.totalNumPages)); err != nil {
		return fmt.Errorf("%w: appending block to %s: %v", ErrWriteFailed, h.fileName, err)
	}
	h.totalNumPages++
	h.metaChanged = true
	return nil
}

// EnsureCapacity grows the file to at least n blocks.
func (h *FileHandle) EnsureCapacity(n int) error {
	if h == nil || h.file == nil {
		return ErrHandleNotInit
	}
	for h.totalNumPages < n {
		if err := h.AppendEmptyBlock(); err != nil {
			return err
		}
	}
	return nil
}

// Sync forces the header and file contents to stable storage.
func (h *FileHandle) Sync() error {
	if h == nil || h.file == nil {
		return ErrHandleNotInit
	}
	if h.metaChanged {
		return h.writeMeta()
	}
	return h.file.Sync()
}
