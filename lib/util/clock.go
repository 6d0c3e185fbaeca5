package util

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond time source
type Clock interface {
	// NowMillis returns the milliseconds elapsed since an arbitrary, fixed origin.
	// Values never decrease.
	NowMillis() int64
}

// --------------------------------------------------------------------------
// System Clock
// --------------------------------------------------------------------------

type systemClock struct {
	origin time.Time
}

// NewSystemClock returns a Clock backed by the runtime's monotonic clock.
// The origin is the moment of creation.
func NewSystemClock() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) NowMillis() int64 {
	return time.Since(c.origin).Milliseconds()
}

// --------------------------------------------------------------------------
// Manual Clock (for tests)
// --------------------------------------------------------------------------

// ManualClock is a Clock that only moves when told to
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a manual clock starting at start milliseconds
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) NowMillis() int64 {
	return c.now.Load()
}

// Advance moves the clock forward by d (rounded down to milliseconds)
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(d.Milliseconds())
}

// Set resets the clock to ms. Setting it backwards breaks the Clock contract
// and is only useful to reset a shared clock between tests.
func (c *ManualClock) Set(ms int64) {
	c.now.Store(ms)
}
