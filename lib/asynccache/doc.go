// Package asynccache provides a concurrent map whose values are created
// asynchronously by a factory, at most once per live entry.
//
// The first caller asking for a missing key inserts a pending entry and runs
// the factory; every concurrent caller for the same key waits for that entry
// and observes the same value or the same error. Failed and empty results
// are never retained: the entry is removed before the waiters are released,
// so the next call starts a fresh creation.
package asynccache
