// Package util
//
// This file provides a keyed priority queue.
//
// The implementation combines a binary heap with a hash map, so it supports
// both priority based operations and direct access by key. The LRU cache uses
// it to pick the least recently touched entries when it has to evict: every
// candidate is added with its touch sequence as priority, and the oldest ones
// are popped first.
//
// Complexity:
//   - O(log n) for priority operations (Push, Pop, Update)
//   - O(1) for key based lookups and existence checks
//   - O(log n) for key based removal
//
// Concurrency: the heap is not thread-safe, callers synchronize externally.
//
// Example usage:
//
//	h := NewMapHeap[string]()
//	h.AddItem("a", 30)
//	h.AddItem("b", 10)
//	key, prio, _ := h.PopMin() // "b", 10
package util

import (
	"container/heap"
	"fmt"
)

// heapItem is an entry of the heap: a key and its priority
type heapItem[K comparable] struct {
	Key      K      // Unique identifier for the item
	Priority uint64 // Smaller values are popped first
	index    int    // Index in the heap, maintained by the heap package
}

func (i *heapItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap ordered by priority with key based access
type MapHeap[K comparable] struct {
	items    []*heapItem[K]
	itemsMap map[K]*heapItem[K]
}

// NewMapHeap creates an empty heap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*heapItem[K], 0),
		itemsMap: make(map[K]*heapItem[K]),
	}
}

// NewMapHeapWithCapacity creates an empty heap with room for n items
func NewMapHeapWithCapacity[K comparable](n int) *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*heapItem[K], 0, n),
		itemsMap: make(map[K]*heapItem[K], n),
	}
}

// Len returns the number of items in the heap (part of heap.Interface)
func (h *MapHeap[K]) Len() int { return len(h.items) }

// Less compares items by priority (part of heap.Interface)
func (h *MapHeap[K]) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *MapHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem instead)
func (h *MapHeap[K]) Push(x any) {
	it := x.(*heapItem[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop removes the last item (part of heap.Interface, use PopMin instead)
func (h *MapHeap[K]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem adds a new item or updates the priority of an existing one
func (h *MapHeap[K]) AddItem(key K, priority uint64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &heapItem[K]{Key: key, Priority: priority})
}

// PopMin removes and returns the item with the smallest priority
func (h *MapHeap[K]) PopMin() (key K, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return key, 0, false
	}
	it := heap.Pop(h).(*heapItem[K])
	return it.Key, it.Priority, true
}

// RemoveByKey removes an item by its key and returns its priority
func (h *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the item with the smallest priority without removing it
func (h *MapHeap[K]) Peek() (key K, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return key, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// Contains checks if a key is in the heap
func (h *MapHeap[K]) Contains(key K) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// Priority returns the priority of a key without removing it
func (h *MapHeap[K]) Priority(key K) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.Priority, true
}
