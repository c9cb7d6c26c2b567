package tracking

import "sync/atomic"

// IDAllocator issues process-lifetime-unique track identifiers. IDs are
// strictly increasing and never reused, even after the session they were
// assigned to has been finalized.
type IDAllocator struct {
	counter atomic.Int64
}

// NewIDAllocator creates an allocator starting at 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next track ID. Safe for concurrent use from parallel
// per-source cycles.
func (a *IDAllocator) Next() int64 {
	return a.counter.Add(1)
}
