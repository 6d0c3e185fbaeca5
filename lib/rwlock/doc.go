// Package rwlock implements a reader/writer lock whose acquisitions wait on
// channels and honour a context.
//
// All acquisitions queue in one FIFO. A reader never overtakes a queued
// writer, and consecutive readers at the head of the queue are granted
// together. Every granted acquisition returns a Ticket that releases it.
package rwlock
