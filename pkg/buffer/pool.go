// Package buffer implements a fixed-frame buffer pool over a single page
// file, with FIFO, LRU and LFU replacement and deferred appends for pages
// pinned past the end of the file.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/etushar89/rdbms-core/pkg/storage"
)

// NoPage marks an empty frame.
const NoPage = -1

var (
	// ErrInvalidHandle is returned when a nil or closed pool or page handle is used
	ErrInvalidHandle = errors.New("invalid buffer pool handle")

	// ErrPageNotPinned is returned when unpinning a page with a zero fix count
	ErrPageNotPinned = errors.New("page not pinned")

	// ErrPageNotExist is returned when operating on a page absent from the pool
	ErrPageNotExist = errors.New("page not resident in buffer pool")

	// ErrAllFramesOccupied is returned when every frame is pinned
	ErrAllFramesOccupied = errors.New("all frames occupied")

	// ErrShutdownPinned is returned when shutting down a pool with pinned pages
	ErrShutdownPinned = errors.New("cannot shut down pool with pinned pages")
)

// frame holds one cached page plus its replacement bookkeeping.
type frame struct {
	pageNum    int
	data       []byte
	dirty      bool
	fixCount   int
	insertedAt uint64
	lastUsedAt uint64
	useCount   int
	dataMu     sync.Mutex
}

// BufferPool caches pages of one page file in a fixed set of frames.
// All operations serialize on the pool lock; the per-frame data lock
// additionally guards buffer contents against concurrent copies during
// eviction, per the two-level locking protocol.
type BufferPool struct {
	mu       sync.Mutex
	fileName string
	handle   *storage.FileHandle
	frames   []frame
	strategy ReplacementStrategy

	// pageTable maps resident page numbers to frame indexes
	pageTable map[int]int

	// clock is the logical timestamp source for the usage stamps
	clock uint64

	numReadIO   int
	numWriteIO  int
	pageHits    int
	pinRequests int

	numPinnedPages int
	numDirtyPages  int

	// Deferred-append state: pages pinned past the end of the file are
	// served from zeroed frames and appended to the file lazily, right
	// before the first write-back that could touch them.
	actualPageFileCnt  int
	extraBlockReqCount int
	newBlockRequested  bool
}

// PageHandle is a non-owning view of a pinned page. Data aliases the
// frame buffer and stays valid until Unpin.
type PageHandle struct {
	pool    *BufferPool
	pageNum int
	Data    []byte
}

// NewBufferPool opens fileName through the storage manager and builds a
// pool of numFrames empty frames.
func NewBufferPool(mgr *storage.Manager, fileName string, numFrames int, strategy ReplacementStrategy) (*BufferPool, error) {
	if numFrames <= 0 {
		return nil, fmt.Errorf("%w: pool size %d", ErrInvalidHandle, numFrames)
	}

	h, err := mgr.OpenPageFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file for pool: %w", err)
	}

	bp := &BufferPool{
		fileName:          fileName,
		handle:            h,
		frames:            make([]frame, numFrames),
		strategy:          strategy,
		pageTable:         make(map[int]int, numFrames),
		actualPageFileCnt: h.TotalPages(),
	}
	for i := range bp.frames {
		bp.frames[i].pageNum = NoPage
		bp.frames[i].data = make([]byte, storage.PageSize)
	}
	return bp, nil
}

// FileName returns the name of the backing page file.
func (bp *BufferPool) FileName() string {
	return bp.fileName
}

// NumFrames returns the pool capacity.
func (bp *BufferPool) NumFrames() int {
	return len(bp.frames)
}

// Strategy returns the replacement strategy.
func (bp *BufferPool) Strategy() ReplacementStrategy {
	return bp.strategy
}

func (bp *BufferPool) tick() uint64 {
	bp.clock++
	return bp.clock
}

// writeNewBlocks materializes every deferred append: one block per
// requested page index, using the frame's buffer when it is resident and
// dirty. Must run before any physical write that could touch a page at
// or past actualPageFileCnt. Caller holds the pool lock.
func (bp *BufferPool) writeNewBlocks() error {
	if !bp.newBlockRequested {
		return nil
	}
	for n := bp.actualPageFileCnt; n < bp.actualPageFileCnt+bp.extraBlockReqCount; n++ {
		if err := bp.handle.AppendEmptyBlock(); err != nil {
			return fmt.Errorf("failed to append deferred block %d: %w", n, err)
		}
		idx, ok := bp.pageTable[n]
		if !ok || !bp.frames[idx].dirty {
			continue
		}
		f := &bp.frames[idx]
		f.dataMu.Lock()
		err := bp.handle.WriteBlock(n, f.data)
		f.dataMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to write deferred block %d: %w", n, err)
		}
		f.dirty = false
		bp.numDirtyPages--
		bp.numWriteIO++
	}
	bp.actualPageFileCnt += bp.extraBlockReqCount
	bp.extraBlockReqCount = 0
	bp.newBlockRequested = false
	return nil
}

// flushFrame writes one frame back to the file, materializing deferred
// appends first when the target page may lie past the physical end.
// Caller holds the pool lock.
func (bp *BufferPool) flushFrame(idx int) error {
	f := &bp.frames[idx]
	if f.pageNum >= bp.actualPageFileCnt {
		if err := bp.writeNewBlocks(); err != nil {
			return err
		}
	}
	if !f.dirty {
		// writeNewBlocks may have flushed this very frame
		return nil
	}
	f.dataMu.Lock()
	err := bp.handle.WriteBlock(f.pageNum, f.data)
	f.dataMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write back page %d: %w", f.pageNum, err)
	}
	f.dirty = false
	bp.numDirtyPages--
	bp.numWriteIO++
	return nil
}

// getFreeFrame returns the index of a frame to host a new page: an empty
// frame when one exists, otherwise the strategy's victim, written back
// if dirty.
func (bp *BufferPool) getFreeFrame() (int, error) {
	for i := range bp.frames {
		if bp.frames[i].pageNum == NoPage {
			return i, nil
		}
	}

	victim := pickVictim(bp.frames, bp.strategy)
	if victim == -1 {
		return -1, ErrAllFramesOccupied
	}
	if bp.frames[victim].dirty {
		if err := bp.flushFrame(victim); err != nil {
			return -1, err
		}
	}
	delete(bp.pageTable, bp.frames[victim].pageNum)
	return victim, nil
}

// PinPage makes pageNum resident and returns a handle whose Data aliases
// the frame buffer. Pinning a page past the end of the file yields a
// zeroed dirty frame whose block is appended on the next write-back.
func (bp *BufferPool) PinPage(pageNum int) (*PageHandle, error) {
	if bp == nil || bp.handle == nil {
		return nil, ErrInvalidHandle
	}
	if pageNum < 0 {
		return nil, fmt.Errorf("%w: page %d", ErrPageNotExist, pageNum)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.pinRequests++

	if idx, ok := bp.pageTable[pageNum]; ok {
		f := &bp.frames[idx]
		f.fixCount++
		bp.numPinnedPages++
		f.lastUsedAt = bp.tick()
		f.useCount++
		bp.pageHits++
		return &PageHandle{pool: bp, pageNum: pageNum, Data: f.data}, nil
	}

	idx, err := bp.getFreeFrame()
	if err != nil {
		return nil, err
	}
	f := &bp.frames[idx]

	f.dataMu.Lock()
	readErr := bp.handle.ReadBlock(pageNum, f.data)
	switch {
	case readErr == nil:
		bp.numReadIO++
	case errors.Is(readErr, storage.ErrReadNonExistingPage):
		// Pinned-but-not-yet-appended page: serve a zeroed buffer and
		// grow the file lazily on the next write-back.
		for i := range f.data {
			f.data[i] = 0
		}
		bp.newBlockRequested = true
		// The pending range must reach pageNum even when requests skip
		// indexes; intermediate blocks are appended empty.
		if need := pageNum - bp.actualPageFileCnt + 1; need > bp.extraBlockReqCount {
			bp.extraBlockReqCount = need
		}
		f.dirty = true
		bp.numDirtyPages++
	default:
		f.dataMu.Unlock()
		return nil, fmt.Errorf("failed to read page %d: %w", pageNum, readErr)
	}
	f.dataMu.Unlock()

	now := bp.tick()
	f.pageNum = pageNum
	f.fixCount = 1
	f.insertedAt = now
	f.lastUsedAt = now
	f.useCount = 1
	bp.pageTable[pageNum] = idx
	bp.numPinnedPages++

	return &PageHandle{pool: bp, pageNum: pageNum, Data: f.data}, nil
}

// UnpinPage decrements the fix count of pageNum.
func (bp *BufferPool) UnpinPage(pageNum int) error {
	if bp == nil || bp.handle == nil {
		return ErrInvalidHandle
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageNum]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotExist, pageNum)
	}
	f := &bp.frames[idx]
	if f.fixCount == 0 {
		return fmt.Errorf("%w: page %d", ErrPageNotPinned, pageNum)
	}
	f.fixCount--
	bp.numPinnedPages--
	return nil
}

// MarkDirty flags pageNum as modified.
func (bp *BufferPool) MarkDirty(pageNum int) error {
	if bp == nil || bp.handle == nil {
		return ErrInvalidHandle
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageNum]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotExist, pageNum)
	}
	if !bp.frames[idx].dirty {
		bp.frames[idx].dirty = true
		bp.numDirtyPages++
	}
	return nil
}

// ForcePage writes pageNum back to the file immediately, regardless of
// its fix count, clearing the dirty flag.
func (bp *BufferPool) ForcePage(pageNum int) error {
	if bp == nil || bp.handle == nil {
		return ErrInvalidHandle
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[pageNum]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotExist, pageNum)
	}
	f := &bp.frames[idx]
	if f.pageNum >= bp.actualPageFileCnt {
		if err := bp.writeNewBlocks(); err != nil {
			return err
		}
	}
	wasDirty := f.dirty
	f.dataMu.Lock()
	err := bp.handle.WriteBlock(f.pageNum, f.data)
	f.dataMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to force page %d: %w", f.pageNum, err)
	}
	if wasDirty && f.dirty {
		bp.numDirtyPages--
	}
	f.dirty = false
	bp.numWriteIO++
	return nil
}

// ForceFlushPool writes back every dirty frame with a zero fix count.
func (bp *BufferPool) ForceFlushPool() error {
	if bp == nil || bp.handle == nil {
		return ErrInvalidHandle
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	return bp.flushUnpinned()
}

func (bp *BufferPool) flushUnpinned() error {
	for i := range bp.frames {
		f := &bp.frames[i]
		if f.pageNum == NoPage || !f.dirty || f.fixCount != 0 {
			continue
		}
		if err := bp.flushFrame(i); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown flushes the pool and closes the backing file. It fails when
// any page is still pinned.
func (bp *BufferPool) Shutdown() error {
	if bp == nil || bp.handle == nil {
		return ErrInvalidHandle
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.numPinnedPages > 0 {
		return fmt.Errorf("%w: %d pinned", ErrShutdownPinned, bp.numPinnedPages)
	}
	if err := bp.flushUnpinned(); err != nil {
		return err
	}
	if err := bp.writeNewBlocks(); err != nil {
		return err
	}
	if err := bp.handle.Close(); err != nil {
		return fmt.Errorf("failed to close pool file: %w", err)
	}
	bp.handle = nil
	bp.pageTable = nil
	bp.frames = nil
	return nil
}

// PageNum returns the pinned page's number.
func (h *PageHandle) PageNum() int {
	return h.pageNum
}

// MarkDirty flags the pinned page as modified.
func (h *PageHandle) MarkDirty() error {
	return h.pool.MarkDirty(h.pageNum)
}

// Unpin releases the pin. The handle's Data must not be used afterwards.
func (h *PageHandle) Unpin() error {
	return h.pool.UnpinPage(h.pageNum)
}
