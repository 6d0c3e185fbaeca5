package lru

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/lib/util"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("lru")

var (
	// ErrNilKey is returned for nil keys
	ErrNilKey = errors.New("lru: nil key")
	// ErrInvalidCapacity is returned unless 0 < capacity <= threshold
	ErrInvalidCapacity = errors.New("lru: invalid capacity")
	// ErrDisposed is returned by every operation after Dispose
	ErrDisposed = errors.New("lru: disposed")
)

type entry[V any] struct {
	value     V
	lastTouch atomic.Int64
	touchSeq  atomic.Uint64
}

type options struct {
	name  string
	clock util.Clock
}

// Option configures a Cache
type Option func(*options)

// WithClock sets the time source for the touch timestamps
func WithClock(clock util.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithName sets the name used in metric labels
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Cache is a read optimized LRU cache
type Cache[K comparable, V any] struct {
	entries   *xsync.MapOf[K, *entry[V]]
	capacity  int
	threshold int
	clock     util.Clock
	name      string

	count    atomic.Int64
	seq      atomic.Uint64
	evictMu  sync.Mutex
	disposed atomic.Bool

	evictions *vm.Counter

	// afterSelect runs between the selection and the removal of an eviction
	afterSelect func()
}

// New creates a cache that is trimmed to capacity entries once it holds
// more than threshold entries
func New[K comparable, V any](capacity, threshold int, opts ...Option) (*Cache[K, V], error) {
	if capacity <= 0 || capacity > threshold {
		return nil, fmt.Errorf("%w: capacity %d, threshold %d", ErrInvalidCapacity, capacity, threshold)
	}
	o := options{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = util.NewSystemClock()
	}
	return &Cache[K, V]{
		entries:   xsync.NewMapOf[K, *entry[V]](xsync.WithPresize(threshold + 1)),
		capacity:  capacity,
		threshold: threshold,
		clock:     o.clock,
		name:      o.name,
		evictions: telemetry.Counter(fmt.Sprintf(`dgrid_lru_evictions_total{cache=%q}`, o.name)),
	}, nil
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Add stores value under key, replacing an existing value
func (c *Cache[K, V]) Add(key K, value V) error {
	if err := c.check(key); err != nil {
		return err
	}
	e := &entry[V]{value: value}
	c.touch(e)
	c.entries.Compute(key, func(_ *entry[V], loaded bool) (*entry[V], bool) {
		if !loaded {
			c.count.Add(1)
		}
		return e, false
	})
	if int(c.count.Load()) > c.threshold {
		c.evict()
	}
	return nil
}

// TryGetValue returns the value of key and marks it as recently used
func (c *Cache[K, V]) TryGetValue(key K) (V, bool, error) {
	var zero V
	if err := c.check(key); err != nil {
		return zero, false, err
	}
	e, ok := c.entries.Load(key)
	if !ok {
		return zero, false, nil
	}
	c.touch(e)
	return e.value, true, nil
}

// TryRemove removes key and returns its value
func (c *Cache[K, V]) TryRemove(key K) (V, bool, error) {
	var zero V
	if err := c.check(key); err != nil {
		return zero, false, err
	}
	e, ok := c.entries.LoadAndDelete(key)
	if !ok {
		return zero, false, nil
	}
	c.count.Add(-1)
	return e.value, true, nil
}

// LastTouch returns the clock value of the last Add or TryGetValue of key
func (c *Cache[K, V]) LastTouch(key K) (int64, bool) {
	e, ok := c.entries.Load(key)
	if !ok {
		return 0, false
	}
	return e.lastTouch.Load(), true
}

// Len returns the number of entries
func (c *Cache[K, V]) Len() int {
	return int(c.count.Load())
}

// Clear removes all entries
func (c *Cache[K, V]) Clear() {
	c.entries.Range(func(key K, _ *entry[V]) bool {
		if _, ok := c.entries.LoadAndDelete(key); ok {
			c.count.Add(-1)
		}
		return true
	})
}

// Dispose drops all entries. Every later operation returns ErrDisposed,
// calling Dispose again does nothing.
func (c *Cache[K, V]) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.Clear()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Cache[K, V]) check(key K) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	if isNilKey(key) {
		return ErrNilKey
	}
	return nil
}

func (c *Cache[K, V]) touch(e *entry[V]) {
	e.lastTouch.Store(c.clock.NowMillis())
	e.touchSeq.Store(c.seq.Add(1))
}

// evict trims the cache back to capacity. If another goroutine is already
// evicting this call returns at once, the running eviction checks the
// population again after it released the lock.
func (c *Cache[K, V]) evict() {
	for c.Len() > c.threshold {
		if !c.evictMu.TryLock() {
			return
		}
		progress := true
		for progress && c.Len() > c.threshold {
			progress = c.trim() > 0
		}
		c.evictMu.Unlock()
		if !progress {
			return
		}
	}
}

// trim removes the least recently touched entries above capacity and
// returns how many it removed. The caller holds evictMu.
func (c *Cache[K, V]) trim() int {
	excess := c.Len() - c.capacity
	if excess <= 0 {
		return 0
	}

	selected := make(map[K]*entry[V], c.Len())
	h := util.NewMapHeapWithCapacity[K](c.Len())
	c.entries.Range(func(key K, e *entry[V]) bool {
		selected[key] = e
		h.AddItem(key, e.touchSeq.Load())
		return true
	})
	if c.afterSelect != nil {
		c.afterSelect()
	}

	evicted := 0
	for i := 0; i < excess; i++ {
		key, seq, ok := h.PopMin()
		if !ok {
			break
		}
		e := selected[key]
		removed := false
		c.entries.Compute(key, func(old *entry[V], loaded bool) (*entry[V], bool) {
			if !loaded {
				return nil, true
			}
			// replaced or touched since the selection
			if old != e || old.touchSeq.Load() != seq {
				return old, false
			}
			removed = true
			return nil, true
		})
		if removed {
			c.count.Add(-1)
			evicted++
		}
	}
	c.evictions.Add(evicted)
	Logger.Debugf("cache %s evicted %d of %d selected entries", c.name, evicted, excess)
	return evicted
}

// isNilKey reports whether key is a nil pointer or interface
func isNilKey[K comparable](key K) bool {
	rv := reflect.ValueOf(&key).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
