package util

import "sync/atomic"

// Sequence hands out monotonically increasing int64 ids.
// It replaces a process-wide correlation id counter: every client owns one.
type Sequence struct {
	next atomic.Int64
}

// NewSequence creates a sequence whose first Next() returns start
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Sequence) Next() int64 {
	return s.next.Add(1) - 1
}

// Peek returns the id the next call to Next() would return
func (s *Sequence) Peek() int64 {
	return s.next.Load()
}

// Reset makes the sequence restart at start. Only meant for tests.
func (s *Sequence) Reset(start int64) {
	s.next.Store(start)
}
