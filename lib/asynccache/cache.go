package asynccache

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/ValentinKolb/dGrid/lib/telemetry"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("asynccache")

// Factory creates the value of key
type Factory[K comparable, V any] func(ctx context.Context, key K) (V, error)

// entry is Creating until done is closed, then it holds a value, an error or
// nothing (empty)
type entry[V any] struct {
	seq      uint64
	done     chan struct{}
	value    V
	err      error
	hasValue bool
}

func (e *entry[V]) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// wait blocks until e is resolved or ctx ends
func (e *entry[V]) wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type options[V any] struct {
	name    string
	isEmpty func(V) bool
}

// Option configures a Cache
type Option[V any] func(*options[V])

// WithName sets the name used in metric labels
func WithName[V any](name string) Option[V] {
	return func(o *options[V]) { o.name = name }
}

// WithEmpty overrides the check for empty factory results. By default nil
// pointers, maps, slices, channels, funcs and interfaces are empty.
func WithEmpty[V any](isEmpty func(V) bool) Option[V] {
	return func(o *options[V]) { o.isEmpty = isEmpty }
}

// Cache maps keys to asynchronously created values
type Cache[K comparable, V any] struct {
	entries *xsync.MapOf[K, *entry[V]]
	seq     atomic.Uint64
	isEmpty func(V) bool
	name    string

	hits     *vm.Counter
	misses   *vm.Counter
	failures *vm.Counter
}

func New[K comparable, V any](opts ...Option[V]) *Cache[K, V] {
	o := options[V]{name: "default", isEmpty: isNil[V]}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{
		entries:  xsync.NewMapOf[K, *entry[V]](),
		isEmpty:  o.isEmpty,
		name:     o.name,
		hits:     telemetry.Counter(fmt.Sprintf(`dgrid_asynccache_hits_total{cache=%q}`, o.name)),
		misses:   telemetry.Counter(fmt.Sprintf(`dgrid_asynccache_misses_total{cache=%q}`, o.name)),
		failures: telemetry.Counter(fmt.Sprintf(`dgrid_asynccache_failures_total{cache=%q}`, o.name)),
	}
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// GetOrAdd returns the value of key, creating it with factory if the key is
// missing. An empty factory result is returned as the zero value with a nil
// error and is not stored.
func (c *Cache[K, V]) GetOrAdd(ctx context.Context, key K, factory Factory[K, V]) (V, error) {
	var zero V
	e, created := c.loadOrCreate(key)
	if created {
		c.resolve(ctx, key, e, factory)
	} else if err := e.wait(ctx); err != nil {
		return zero, err
	}
	if e.err != nil {
		return zero, e.err
	}
	return e.value, nil
}

// TryAdd creates the value of key if the key is missing. It returns true only
// for the caller whose factory produced the stored value.
//
// A caller that finds a pending entry waits for it: if that creation failed
// it returns the same error, if it produced a value it returns false, and if
// it was empty the caller tries again.
func (c *Cache[K, V]) TryAdd(ctx context.Context, key K, factory Factory[K, V]) (bool, error) {
	for {
		e, created := c.loadOrCreate(key)
		if created {
			c.resolve(ctx, key, e, factory)
			return e.hasValue, e.err
		}
		if err := e.wait(ctx); err != nil {
			return false, err
		}
		if e.err != nil {
			return false, e.err
		}
		if e.hasValue {
			return false, nil
		}
	}
}

// TryGet returns the value of key. A pending entry is awaited, a failed
// creation returns its error.
func (c *Cache[K, V]) TryGet(ctx context.Context, key K) (V, bool, error) {
	var zero V
	e, ok := c.entries.Load(key)
	if !ok {
		c.misses.Inc()
		return zero, false, nil
	}
	c.hits.Inc()
	if err := e.wait(ctx); err != nil {
		return zero, false, err
	}
	if e.err != nil {
		return zero, false, e.err
	}
	return e.value, e.hasValue, nil
}

// TryRemove removes the entry of key, pending or resolved. Callers waiting on
// a removed pending entry still receive its result.
func (c *Cache[K, V]) TryRemove(key K) bool {
	_, ok := c.entries.LoadAndDelete(key)
	return ok
}

// TryRemoveIf removes the entry of key only if it is resolved and match
// reports true for its value. A pending entry is kept.
func (c *Cache[K, V]) TryRemoveIf(key K, match func(V) bool) bool {
	removed := false
	c.entries.Compute(key, func(old *entry[V], loaded bool) (*entry[V], bool) {
		if !loaded {
			return nil, true
		}
		if !old.resolved() || !old.hasValue || !match(old.value) {
			return old, false
		}
		removed = true
		return nil, true
	})
	return removed
}

// TryGetAndRemove removes the entry of key and returns its value, waiting
// for it if it is pending
func (c *Cache[K, V]) TryGetAndRemove(ctx context.Context, key K) (V, bool, error) {
	var zero V
	e, ok := c.entries.LoadAndDelete(key)
	if !ok {
		return zero, false, nil
	}
	if err := e.wait(ctx); err != nil {
		return zero, false, err
	}
	if e.err != nil {
		return zero, false, e.err
	}
	return e.value, e.hasValue, nil
}

// All returns the resolved entries in insertion order. The view is weakly
// consistent: entries added or removed during the call may or may not show up.
func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	type item struct {
		key K
		e   *entry[V]
	}
	return func(yield func(K, V) bool) {
		var items []item
		c.entries.Range(func(key K, e *entry[V]) bool {
			if e.resolved() && e.hasValue {
				items = append(items, item{key, e})
			}
			return true
		})
		slices.SortFunc(items, func(a, b item) int { return cmp.Compare(a.e.seq, b.e.seq) })
		for _, it := range items {
			if !yield(it.key, it.e.value) {
				return
			}
		}
	}
}

// Len returns the number of entries, pending ones included
func (c *Cache[K, V]) Len() int {
	return c.entries.Size()
}

// Clear removes all entries
func (c *Cache[K, V]) Clear() {
	c.entries.Clear()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// loadOrCreate returns the entry of key and whether this call inserted it
func (c *Cache[K, V]) loadOrCreate(key K) (*entry[V], bool) {
	e, loaded := c.entries.LoadOrCompute(key, func() *entry[V] {
		return &entry[V]{seq: c.seq.Add(1), done: make(chan struct{})}
	})
	if loaded {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return e, !loaded
}

// resolve runs the factory for the entry this caller inserted. Failed and
// empty results are removed before the waiters are released.
func (c *Cache[K, V]) resolve(ctx context.Context, key K, e *entry[V], factory Factory[K, V]) {
	v, err := c.call(ctx, key, factory)
	switch {
	case err != nil:
		e.err = err
		c.failures.Inc()
		Logger.Debugf("factory of cache %s failed for key %v: %v", c.name, key, err)
		c.remove(key, e)
	case c.isEmpty(v):
		c.remove(key, e)
	default:
		e.value = v
		e.hasValue = true
	}
	close(e.done)
}

// remove deletes the entry of key if it is still e
func (c *Cache[K, V]) remove(key K, e *entry[V]) {
	c.entries.Compute(key, func(old *entry[V], loaded bool) (*entry[V], bool) {
		if !loaded {
			return nil, true
		}
		return old, old == e
	})
}

// call runs the factory and turns a panic into an error
func (c *Cache[K, V]) call(ctx context.Context, key K, factory Factory[K, V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory of cache %s panicked for key %v: %v", c.name, key, r)
		}
	}()
	return factory(ctx, key)
}

// isNil is the default empty check
func isNil[V any](v V) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
