// Package metrics tracks operation counters for the admin surface.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector counts core operations. All methods are safe for concurrent
// use.
type Collector struct {
	startTime time.Time

	inserts   atomic.Int64
	deletes   atomic.Int64
	updates   atomic.Int64
	reads     atomic.Int64
	scans     atomic.Int64
	indexOps  atomic.Int64
	snapshots atomic.Int64
	requests  atomic.Int64
	errors    atomic.Int64
}

// NewCollector creates a collector anchored at the current time.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) RecordInsert()   { c.inserts.Add(1) }
func (c *Collector) RecordDelete()   { c.deletes.Add(1) }
func (c *Collector) RecordUpdate()   { c.updates.Add(1) }
func (c *Collector) RecordRead()     { c.reads.Add(1) }
func (c *Collector) RecordScan()     { c.scans.Add(1) }
func (c *Collector) RecordIndexOp()  { c.indexOps.Add(1) }
func (c *Collector) RecordSnapshot() { c.snapshots.Add(1) }
func (c *Collector) RecordRequest()  { c.requests.Add(1) }
func (c *Collector) RecordError()    { c.errors.Add(1) }

// Snapshot returns the current counter values plus uptime.
func (c *Collector) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(c.startTime).Seconds()),
		"inserts":        c.inserts.Load(),
		"deletes":        c.deletes.Load(),
		"updates":        c.updates.Load(),
		"reads":          c.reads.Load(),
		"scans":          c.scans.Load(),
		"index_ops":      c.indexOps.Load(),
		"snapshots":      c.snapshots.Load(),
		"requests":       c.requests.Load(),
		"errors":         c.errors.Load(),
	}
}
