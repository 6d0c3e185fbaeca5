// Package lru implements a bounded cache tuned for concurrent reads.
//
// Lookups never take a lock: they only store the touch time and a touch
// sequence number with atomics. When the population grows past the eviction
// threshold, one goroutine evicts the least recently touched entries until
// the population is back at capacity. An entry touched after it was selected
// for eviction survives.
package lru
