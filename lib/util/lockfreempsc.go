// Package util
//
// This file provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
// A connection uses it as its outbound queue: any goroutine may Push a message,
// a single writer goroutine drains Recv() and writes to the socket.
//
// Features and Guarantees:
//
//   - Lock-Free appends: producers link nodes with CAS, contention is handled
//     with exponential backoff
//   - Unbounded Size: limited only by available memory
//   - Per-producer FIFO: items pushed by one goroutine are received in push
//     order. Items of different producers interleave in completion order.
//   - Drain on Close: items pushed before Close() are still delivered, then
//     the Recv() channel is closed and Done() is signalled
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	done   chan struct{}
	closed atomic.Bool
	length atomic.Int64

	// wakes the consumer when it ran dry
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its consumer goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out:  make(chan *T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the item is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have moved the tail, that is fine
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)

				// signal under the lock, otherwise the wakeup can fall between
				// the consumer's emptiness check and its Wait()
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin while contention is low, yield once it grows
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the linked list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.length.Add(-1)
			q.out <- value

			// help the gc, the node is the new sentinel
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the receive-only channel the single consumer reads from.
// The channel is closed once the queue is closed and drained.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Done is closed after the queue was closed and every item was handed out
func (q *LockFreeMPSC[T]) Done() <-chan struct{} {
	return q.done
}

// Close prevents further pushes. Items already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items not yet taken by the consumer goroutine
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.length.Load())
}
