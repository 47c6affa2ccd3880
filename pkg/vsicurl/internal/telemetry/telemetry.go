// Package telemetry implements the minimal per-process counters described
// in SPEC_FULL.md's resolved Open Question: bytes delivered, active
// transfers, and front-cache hits, behind an interface small enough that
// the core never commits to a specific exposition format.
package telemetry

import "sync/atomic"

// Counters tracks the handful of process-wide numbers worth exposing. The
// zero value is ready to use.
type Counters struct {
	bytesDelivered  atomic.Int64
	activeTransfers atomic.Int64
	frontCacheHits  atomic.Int64
}

// Default is the package-wide instance every StreamHandle reports into;
// there is no option to substitute another instance.
var Default = &Counters{}

// AddBytesDelivered records n bytes handed back to a caller from Read.
func (c *Counters) AddBytesDelivered(n int64) {
	c.bytesDelivered.Add(n)
}

// TransferStarted records a worker goroutine beginning a network transfer.
func (c *Counters) TransferStarted() {
	c.activeTransfers.Add(1)
}

// TransferEnded records a worker goroutine's transfer ending, successfully
// or not.
func (c *Counters) TransferEnded() {
	c.activeTransfers.Add(-1)
}

// AddFrontCacheHit records one Read that was served at least partly from
// the front cache.
func (c *Counters) AddFrontCacheHit() {
	c.frontCacheHits.Add(1)
}

// Snapshot is a point-in-time copy of the counters, safe to log or print.
type Snapshot struct {
	BytesDelivered  int64
	ActiveTransfers int64
	FrontCacheHits  int64
}

// Snapshot reads the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		BytesDelivered:  c.bytesDelivered.Load(),
		ActiveTransfers: c.activeTransfers.Load(),
		FrontCacheHits:  c.frontCacheHits.Load(),
	}
}
