// Package util provides the small building blocks shared by the client runtime.
//
// The package focuses on:
//   - Injectable services that would otherwise be hidden process-wide state
//     (correlation id Sequence, millisecond Clock)
//   - Data structures used by the higher level packages (MapHeap for LRU
//     eviction, LockFreeMPSC for a connection's outbound write queue)
//   - Hashing helpers for routing keys to partitions
//
// Key Components:
//
//   - Sequence: monotonically increasing int64 ids with Reset for tests.
//
//   - Clock: monotonic millisecond time source. SystemClock is backed by the
//     runtime's monotonic clock, ManualClock is advanced explicitly by tests.
//
//   - MapHeap: a keyed min-heap, O(log n) priority operations and O(1) key
//     lookups. Not thread-safe.
//
//   - LockFreeMPSC: unbounded lock-free multi-producer single-consumer queue.
//
//   - HashString / PartitionID: FNV-1a based key to partition routing.
package util
