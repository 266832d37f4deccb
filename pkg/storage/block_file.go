package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"
)

// blockFile is the I/O surface a page file needs from its backing store.
type blockFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync() error
	Close() error
	Size() (int64, error)
}

// FileSystem creates, opens and destroys the files backing page files.
// The default implementation is the OS filesystem; a memory-backed
// implementation is available for tests and ephemeral data.
type FileSystem interface {
	Create(name string) (blockFile, error)
	Open(name string) (blockFile, error)
	Destroy(name string) error
	Exists(name string) bool
}

// osFile adapts *os.File to the blockFile interface
type osFile struct {
	*os.File
}

func (f *osFile) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// OSFileSystem stores page files on the local filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Create(name string) (blockFile, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &osFile{f}, nil
}

func (OSFileSystem) Open(name string) (blockFile, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &osFile{f}, nil
}

func (OSFileSystem) Destroy(name string) error {
	return os.Remove(name)
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// directFile performs aligned I/O on a file opened with O_DIRECT.
// Arbitrary byte ranges are serviced by read-modify-write over the
// covering aligned blocks; the physical file size is kept rounded up to
// the alignment unit (trailing zero padding past the logical size is
// invisible to readers, which are bounded by the header's block count).
type directFile struct {
	file        *os.File
	mu          sync.Mutex
	logicalSize int64
}

func openDirect(name string, flag int) (*directFile, error) {
	f, err := directio.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &directFile{file: f, logicalSize: info.Size()}, nil
}

func alignDown(off int64) int64 { return off &^ int64(directio.BlockSize-1) }

func alignUp(off int64) int64 {
	return (off + int64(directio.BlockSize) - 1) &^ int64(directio.BlockSize-1)
}

// readCovering reads the aligned block span covering [off, off+n) into a
// fresh aligned buffer. Blocks past EOF read as zeros.
func (f *directFile) readCovering(off, n int64) ([]byte, int64, error) {
	start := alignDown(off)
	end := alignUp(off + n)
	buf := directio.AlignedBlock(int(end - start))

	physEnd := alignUp(f.logicalSize)
	readEnd := end
	if readEnd > physEnd {
		readEnd = physEnd
	}
	if readEnd > start {
		if _, err := f.file.ReadAt(buf[:readEnd-start], start); err != nil {
			return nil, 0, err
		}
	}
	return buf, start, nil
}

func (f *directFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf, start, err := f.readCovering(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	copy(p, buf[off-start:])
	return len(p), nil
}

func (f *directFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf, start, err := f.readCovering(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	copy(buf[off-start:], p)
	if _, err := f.file.WriteAt(buf, start); err != nil {
		return 0, err
	}
	if end := off + int64(len(p)); end > f.logicalSize {
		f.logicalSize = end
	}
	return len(p), nil
}

func (f *directFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Truncate(alignUp(size)); err != nil {
		return err
	}
	f.logicalSize = size
	return nil
}

func (f *directFile) Sync() error  { return f.file.Sync() }
func (f *directFile) Close() error { return f.file.Close() }

func (f *directFile) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logicalSize, nil
}

// DirectFileSystem stores page files on the local filesystem using
// O_DIRECT, bypassing the OS page cache so the buffer pool is the only
// cache in the stack.
type DirectFileSystem struct{}

func (DirectFileSystem) Create(name string) (blockFile, error) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return openDirect(name, os.O_CREATE|os.O_RDWR)
}

func (DirectFileSystem) Open(name string) (blockFile, error) {
	return openDirect(name, os.O_RDWR)
}

func (DirectFileSystem) Destroy(name string) error {
	return os.Remove(name)
}

func (DirectFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// memFile adapts memfile.File to the blockFile interface
type memFile struct {
	*memfile.File
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }

func (f *memFile) Size() (int64, error) {
	return int64(len(f.Bytes())), nil
}

// MemFS keeps page files in memory. Files survive close/reopen for the
// lifetime of the MemFS value, which makes it a drop-in backend for unit
// tests and ephemeral tables.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memfile.File
}

// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memfile.File)}
}

func (fs *MemFS) Create(name string) (blockFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f := memfile.New(nil)
	fs.files[name] = f
	return &memFile{f}, nil
}

func (fs *MemFS) Open(name string) (blockFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return &memFile{f}, nil
}

func (fs *MemFS) Destroy(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) Exists(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, ok := fs.files[name]
	return ok
}
