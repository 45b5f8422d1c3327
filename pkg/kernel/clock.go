package kernel

import (
	"sync"
	"time"
)

// DefaultEpochMillis is the constant "now" seen by contracts outside an
// interaction: 2016-11-18T00:00:00Z.
const DefaultEpochMillis int64 = 1479427200000

// PerformanceStep is the increment of the stepped monotonic counter.
const PerformanceStep = 0.1

// DeterministicClock answers every time query from ledger data. It never
// reads the host clock.
type DeterministicClock struct {
	mu       sync.Mutex
	fixed    int64
	block    int64
	hasBlock bool
	step     float64
}

// NewDeterministicClock returns a clock whose DateMillis is pinned to
// fixedMillis (TX_DATE) when it is non-zero. NowMillis ignores it.
func NewDeterministicClock(fixedMillis int64) *DeterministicClock {
	return &DeterministicClock{fixed: fixedMillis}
}

// BindBlock sets the block timestamp (seconds) of the interaction being
// applied. A zero timestamp leaves the clock at its fixed epoch.
func (c *DeterministicClock) BindBlock(timestampSeconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = timestampSeconds * 1000
	c.hasBlock = timestampSeconds > 0
}

// Unbind clears the interaction timestamp.
func (c *DeterministicClock) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = 0
	c.hasBlock = false
}

// NowMillis returns the block timestamp of the bound interaction, or
// DefaultEpochMillis outside one.
func (c *DeterministicClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasBlock {
		return c.block
	}
	return DefaultEpochMillis
}

// DateMillis is the epoch behind EXM.getDate: the fixed date when one is
// set, NowMillis otherwise.
func (c *DeterministicClock) DateMillis() int64 {
	c.mu.Lock()
	fixed := c.fixed
	c.mu.Unlock()
	if fixed != 0 {
		return fixed
	}
	return c.NowMillis()
}

// Now returns NowMillis as a time.Time in UTC.
func (c *DeterministicClock) Now() time.Time {
	return time.UnixMilli(c.NowMillis()).UTC()
}

// Elapsed returns the stepped monotonic counter and advances it by
// PerformanceStep. The first call returns 0.
func (c *DeterministicClock) Elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.step
	c.step += PerformanceStep
	return now
}
