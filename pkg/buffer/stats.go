package buffer

// Frame inspection and counters, mirroring what the pool tracks for
// diagnostics and for the admin surface.

// Contents returns the page number held by each frame, NoPage for empty
// frames, in frame order.
func (bp *BufferPool) Contents() []int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	out := make([]int, len(bp.frames))
	for i := range bp.frames {
		out[i] = bp.frames[i].pageNum
	}
	return out
}

// DirtyFlags returns each frame's dirty flag in frame order.
func (bp *BufferPool) DirtyFlags() []bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	out := make([]bool, len(bp.frames))
	for i := range bp.frames {
		out[i] = bp.frames[i].dirty
	}
	return out
}

// FixCounts returns each frame's fix count in frame order.
func (bp *BufferPool) FixCounts() []int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	out := make([]int, len(bp.frames))
	for i := range bp.frames {
		out[i] = bp.frames[i].fixCount
	}
	return out
}

// NumReadIO returns the number of blocks read from the file since init.
func (bp *BufferPool) NumReadIO() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.numReadIO
}

// NumWriteIO returns the number of blocks written to the file since init.
func (bp *BufferPool) NumWriteIO() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.numWriteIO
}

// PageHits returns the number of pin requests served without I/O.
func (bp *BufferPool) PageHits() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pageHits
}

// HitRatio returns pageHits / pinRequests, 0 when no pin was requested.
func (bp *BufferPool) HitRatio() float64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.pinRequests == 0 {
		return 0
	}
	return float64(bp.pageHits) / float64(bp.pinRequests)
}

// NumPinnedPages returns the sum of all frame fix counts.
func (bp *BufferPool) NumPinnedPages() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.numPinnedPages
}

// NumDirtyPages returns the number of dirty frames.
func (bp *BufferPool) NumDirtyPages() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.numDirtyPages
}

// Stats returns a snapshot of the pool counters.
func (bp *BufferPool) Stats() map[string]interface{} {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	hitRatio := 0.0
	if bp.pinRequests > 0 {
		hitRatio = float64(bp.pageHits) / float64(bp.pinRequests)
	}

	return map[string]interface{}{
		"file":            bp.fileName,
		"frames":          len(bp.frames),
		"strategy":        bp.strategy.String(),
		"read_io":         bp.numReadIO,
		"write_io":        bp.numWriteIO,
		"page_hits":       bp.pageHits,
		"pin_requests":    bp.pinRequests,
		"hit_ratio":       hitRatio,
		"pinned_pages":    bp.numPinnedPages,
		"dirty_pages":     bp.numDirtyPages,
		"file_pages":      bp.actualPageFileCnt,
		"pending_appends": bp.extraBlockReqCount,
	}
}
