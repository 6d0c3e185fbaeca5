package asynccache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proxy struct{ name string }

// TestGetOrAddSingleCreator checks that concurrent callers share one creation
func TestGetOrAddSingleCreator(t *testing.T) {
	c := New[string, *proxy](WithName[*proxy]("single"))
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(ctx context.Context, key string) (*proxy, error) {
		calls.Add(1)
		<-release
		return &proxy{name: key}, nil
	}

	const callers = 32
	results := make([]*proxy, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrAdd(ctx, "map-a", factory)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, c.Len())
}

// TestSharedErrorIsNotRetained checks that all waiters see the same error and
// the failed entry is removed
func TestSharedErrorIsNotRetained(t *testing.T) {
	c := New[int, *proxy]()
	ctx := context.Background()
	errCreate := errors.New("create failed")

	var calls atomic.Int32
	release := make(chan struct{})
	failing := func(ctx context.Context, key int) (*proxy, error) {
		calls.Add(1)
		<-release
		return nil, errCreate
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrAdd(ctx, 1, failing)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, errCreate)
	}
	assert.Equal(t, 0, c.Len(), "failed entry must not be retained")

	// the next call creates again
	v, err := c.GetOrAdd(ctx, 1, func(ctx context.Context, key int) (*proxy, error) {
		return &proxy{name: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v.name)
}

// TestEmptyResult checks that nil results are returned but not stored
func TestEmptyResult(t *testing.T) {
	c := New[string, *proxy]()
	ctx := context.Background()

	v, err := c.GetOrAdd(ctx, "x", func(ctx context.Context, key string) (*proxy, error) {
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 0, c.Len())

	_, ok, err := c.TryGet(ctx, "x")
	assert.NoError(t, err)
	assert.False(t, ok)
}

// TestCustomEmptyCheck uses WithEmpty for a value type
func TestCustomEmptyCheck(t *testing.T) {
	c := New[string, int](WithEmpty(func(v int) bool { return v == 0 }))
	ctx := context.Background()

	added, err := c.TryAdd(ctx, "zero", func(ctx context.Context, key string) (int, error) { return 0, nil })
	assert.NoError(t, err)
	assert.False(t, added)

	added, err = c.TryAdd(ctx, "one", func(ctx context.Context, key string) (int, error) { return 1, nil })
	assert.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, c.Len())
}

// TestFactoryPanic checks that a panicking factory surfaces as error
func TestFactoryPanic(t *testing.T) {
	c := New[string, *proxy]()
	_, err := c.GetOrAdd(context.Background(), "p", func(ctx context.Context, key string) (*proxy, error) {
		panic("boom")
	})
	assert.ErrorContains(t, err, "panicked")
	assert.Equal(t, 0, c.Len())
}

// TestTryAdd checks creator and non-creator results
func TestTryAdd(t *testing.T) {
	c := New[string, *proxy]()
	ctx := context.Background()
	mk := func(ctx context.Context, key string) (*proxy, error) { return &proxy{name: key}, nil }

	added, err := c.TryAdd(ctx, "a", mk)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.TryAdd(ctx, "a", mk)
	require.NoError(t, err)
	assert.False(t, added)

	// a waiter on a failing creation sees the creator's error
	errCreate := errors.New("nope")
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.TryAdd(ctx, "b", func(ctx context.Context, key string) (*proxy, error) {
			<-release
			return nil, errCreate
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	waiter := make(chan error, 1)
	go func() {
		added, err := c.TryAdd(ctx, "b", mk)
		assert.False(t, added)
		waiter <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.ErrorIs(t, <-done, errCreate)
	assert.ErrorIs(t, <-waiter, errCreate)
}

// TestTryAddRetriesAfterEmpty checks that a waiter becomes creator when the
// pending entry resolved empty
func TestTryAddRetriesAfterEmpty(t *testing.T) {
	c := New[string, *proxy]()
	ctx := context.Background()

	release := make(chan struct{})
	go func() {
		_, _ = c.TryAdd(ctx, "k", func(ctx context.Context, key string) (*proxy, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	result := make(chan bool, 1)
	go func() {
		added, err := c.TryAdd(ctx, "k", func(ctx context.Context, key string) (*proxy, error) {
			return &proxy{name: key}, nil
		})
		assert.NoError(t, err)
		result <- added
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.True(t, <-result)
	v, ok, err := c.TryGet(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k", v.name)
}

// TestTryGetWaitsAndHonoursContext checks waiting on pending entries
func TestTryGetWaitsAndHonoursContext(t *testing.T) {
	c := New[string, *proxy]()
	release := make(chan struct{})
	go func() {
		_, _ = c.GetOrAdd(context.Background(), "slow", func(ctx context.Context, key string) (*proxy, error) {
			<-release
			return &proxy{name: key}, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.TryGet(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, ok, err := c.TryGet(context.Background(), "slow")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "slow", v.name)

	_, ok, err = c.TryGet(context.Background(), "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

// TestRemove checks TryRemove and TryGetAndRemove
func TestRemove(t *testing.T) {
	c := New[string, *proxy]()
	ctx := context.Background()
	mk := func(ctx context.Context, key string) (*proxy, error) { return &proxy{name: key}, nil }

	_, _ = c.GetOrAdd(ctx, "a", mk)
	_, _ = c.GetOrAdd(ctx, "b", mk)

	assert.True(t, c.TryRemove("a"))
	assert.False(t, c.TryRemove("a"))

	v, ok, err := c.TryGetAndRemove(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v.name)

	_, ok, _ = c.TryGetAndRemove(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// TestRemoveIfKeepsReplacedValue checks that removing a stale value leaves a
// fresh value of the same key in place
func TestRemoveIfKeepsReplacedValue(t *testing.T) {
	c := New[string, *proxy]()
	ctx := context.Background()
	mk := func(ctx context.Context, key string) (*proxy, error) { return &proxy{name: key}, nil }

	stale, err := c.GetOrAdd(ctx, "a", mk)
	require.NoError(t, err)
	require.True(t, c.TryRemove("a"))
	fresh, err := c.GetOrAdd(ctx, "a", mk)
	require.NoError(t, err)
	require.NotSame(t, stale, fresh)

	same := func(want *proxy) func(*proxy) bool {
		return func(v *proxy) bool { return v == want }
	}
	assert.False(t, c.TryRemoveIf("a", same(stale)))
	v, ok, err := c.TryGet(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, fresh, v)

	assert.True(t, c.TryRemoveIf("a", same(fresh)))
	assert.False(t, c.TryRemoveIf("a", same(fresh)))
	assert.Equal(t, 0, c.Len())

	// a pending entry is kept
	release := make(chan struct{})
	go func() {
		_, _ = c.GetOrAdd(ctx, "b", func(ctx context.Context, key string) (*proxy, error) {
			<-release
			return &proxy{name: key}, nil
		})
	}()
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
	assert.False(t, c.TryRemoveIf("b", func(*proxy) bool { return true }))
	close(release)
	v, ok, err = c.TryGet(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v.name)
}

// TestAllInsertionOrder checks that All yields resolved entries in insertion order
func TestAllInsertionOrder(t *testing.T) {
	c := New[string, *proxy]()
	ctx := context.Background()
	mk := func(ctx context.Context, key string) (*proxy, error) { return &proxy{name: key}, nil }

	var want []string
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("key-%02d", 19-i)
		want = append(want, k)
		_, _ = c.GetOrAdd(ctx, k, mk)
	}

	// a pending entry is not listed
	release := make(chan struct{})
	defer close(release)
	go func() {
		_, _ = c.GetOrAdd(ctx, "pending", func(ctx context.Context, key string) (*proxy, error) {
			<-release
			return &proxy{}, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	var got []string
	for k, v := range c.All() {
		assert.Equal(t, k, v.name)
		got = append(got, k)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 21, c.Len())

	// early break
	n := 0
	for range c.All() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}
