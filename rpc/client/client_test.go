package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/scheduler"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/server"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startMember runs an in-memory member on a random port
func startMember(t *testing.T) (*server.Member, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := server.NewMember(common.DefaultServerConfig(), tcp.NewTCPServerTransport())
	done := make(chan error, 1)
	go func() { done <- m.ServeListener(listener) }()

	t.Cleanup(func() {
		_ = m.Shutdown()
		<-done
	})
	return m, listener.Addr().String()
}

func testConfig(addr string) common.ClientConfig {
	config := common.DefaultClientConfig()
	config.Endpoints = []string{addr}
	config.TimeoutSecond = 5
	config.InvocationBackoffMs = 1
	return config
}

func newTestClient(t *testing.T, config common.ClientConfig, connector transport.IClientConnector, opts ...Option) *Client {
	t.Helper()
	c := New(config, connector, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Shutdown(ctx))
	})
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recordingListener collects entry events
type recordingListener struct {
	mu     sync.Mutex
	events []codec.EntryEvent
}

func (l *recordingListener) OnEntryEvent(ev codec.EntryEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *recordingListener) snapshot() []codec.EntryEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]codec.EntryEvent(nil), l.events...)
}

// flakyConnector fails the first n connection attempts
type flakyConnector struct {
	transport.IClientConnector
	failures atomic.Int32
	attempts atomic.Int32
}

func (c *flakyConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	c.attempts.Add(1)
	if c.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return c.IClientConnector.Connect(ctx, endpoint)
}

func TestMapOperations(t *testing.T) {
	_, addr := startMember(t)
	c := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)

	m, err := c.GetMap(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", m.Name())

	same, err := c.GetMap(ctx, "users")
	require.NoError(t, err)
	assert.Same(t, m, same)

	old, err := m.Put(ctx, []byte("alice"), []byte("1"))
	require.NoError(t, err)
	assert.Nil(t, old)

	old, err = m.Put(ctx, []byte("alice"), []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), old)

	v, err := m.Get(ctx, []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	old, err = m.Remove(ctx, []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), old)

	v, err = m.Get(ctx, []byte("alice"))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = m.Get(ctx, nil)
	assert.Error(t, err)
}

func TestConcurrentInvocations(t *testing.T) {
	_, addr := startMember(t)
	config := testConfig(addr)
	config.ConnectionsPerEndpoint = 3
	c := newTestClient(t, config, tcp.NewClientConnector())
	ctx := testCtx(t)

	m, err := c.GetMap(ctx, "counters")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte{byte(i)}
			_, err := m.Put(ctx, key, key)
			if assert.NoError(t, err) {
				v, err := m.Get(ctx, key)
				assert.NoError(t, err)
				assert.Equal(t, key, v)
			}
		}(i)
	}
	wg.Wait()
}

func TestEntryListenerOrder(t *testing.T) {
	_, addr := startMember(t)
	c := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)

	m, err := c.GetMap(ctx, "events")
	require.NoError(t, err)

	l := &recordingListener{}
	id, err := m.AddEntryListener(ctx, l, true)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	key := []byte("k")
	for i := 0; i < 20; i++ {
		_, err := m.Put(ctx, key, []byte{byte(i)})
		require.NoError(t, err)
	}
	_, err = m.Remove(ctx, key)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(l.snapshot()) == 21 }, 5*time.Second, time.Millisecond)

	events := l.snapshot()
	assert.Equal(t, codec.EntryAdded, events[0].Type)
	for i := 1; i < 20; i++ {
		assert.Equal(t, codec.EntryUpdated, events[i].Type)
		assert.Equal(t, []byte{byte(i)}, events[i].Value)
		assert.Equal(t, []byte{byte(i - 1)}, events[i].OldValue)
	}
	assert.Equal(t, codec.EntryRemoved, events[20].Type)

	removed, err := m.RemoveEntryListener(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = m.RemoveEntryListener(ctx, id)
	assert.ErrorIs(t, err, ErrUnknownListener)

	_, err = m.Put(ctx, key, []byte("after"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, l.snapshot(), 21)
}

func TestListenerErrorsReachHandler(t *testing.T) {
	_, addr := startMember(t)

	errs := make(chan *scheduler.ErrorEvent, 1)
	c := newTestClient(t, testConfig(addr), tcp.NewClientConnector(), WithErrorHandler(func(ev *scheduler.ErrorEvent) {
		ev.Handled = true
		select {
		case errs <- ev:
		default:
		}
	}))
	ctx := testCtx(t)

	m, err := c.GetMap(ctx, "failing")
	require.NoError(t, err)

	_, err = m.AddEntryListener(ctx, EntryListenerFunc(func(codec.EntryEvent) error {
		return errors.New("listener failed")
	}), false)
	require.NoError(t, err)

	_, err = m.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)

	select {
	case ev := <-errs:
		assert.EqualError(t, ev.Err, "listener failed")
		assert.Equal(t, codec.MsgTEntryEvent, codec.TypeOf(ev.Message))
	case <-time.After(5 * time.Second):
		t.Fatal("error handler not called")
	}
}

func TestNearCacheInvalidation(t *testing.T) {
	_, addr := startMember(t)
	reader := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	writer := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)

	cached, err := reader.GetMap(ctx, "config", WithNearCache(10, 12))
	require.NoError(t, err)
	plain, err := writer.GetMap(ctx, "config")
	require.NoError(t, err)

	_, err = plain.Put(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)

	// the put of the writer may still invalidate after the first read
	require.Eventually(t, func() bool {
		v, err := cached.Get(ctx, []byte("k"))
		return err == nil && string(v) == "v1" && cached.NearCacheLen() == 1
	}, 5*time.Second, time.Millisecond)

	_, err = plain.Put(ctx, []byte("k"), []byte("v2"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cached.NearCacheLen() == 0 }, 5*time.Second, time.Millisecond)

	v, err := cached.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestNearCacheDisabledWhenInvalidationIsLost(t *testing.T) {
	_, addr := startMember(t)
	reader := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	writer := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)

	cached, err := reader.GetMap(ctx, "config", WithNearCache(10, 12))
	require.NoError(t, err)
	plain, err := writer.GetMap(ctx, "config")
	require.NoError(t, err)

	_, err = plain.Put(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, err := cached.Get(ctx, []byte("k"))
		return err == nil && string(v) == "v1" && cached.NearCacheLen() == 1
	}, 5*time.Second, time.Millisecond)

	// the invalidation listener goes away with its connection
	_ = cached.nearReg.conn.Close()
	require.Eventually(t, cached.near.disabled.Load, 5*time.Second, time.Millisecond)
	assert.Equal(t, 0, cached.NearCacheLen())

	_, err = plain.Put(ctx, []byte("k"), []byte("v2"))
	require.NoError(t, err)

	v, err := cached.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
	assert.Equal(t, 0, cached.NearCacheLen())
}

func TestClosedConnectionDoesNotEvictItsReplacement(t *testing.T) {
	_, addr := startMember(t)
	c := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)
	key := c.slots[0]

	old, err := c.connection(ctx, key)
	require.NoError(t, err)
	require.True(t, c.connections.TryRemove(key))
	fresh, err := c.connection(ctx, key)
	require.NoError(t, err)
	require.NotSame(t, old, fresh)

	_ = old.Close()
	assert.Never(t, func() bool {
		cur, ok, _ := c.connections.TryGet(ctx, key)
		return !ok || cur != fresh
	}, 100*time.Millisecond, time.Millisecond)

	conn, err := c.connection(ctx, key)
	require.NoError(t, err)
	assert.Same(t, fresh, conn)
}

func TestNilKey(t *testing.T) {
	_, addr := startMember(t)
	c := newTestClient(t, testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)

	m, err := c.GetMap(ctx, "m", WithNearCache(4, 5))
	require.NoError(t, err)

	_, err = m.Put(ctx, nil, []byte("v"))
	assert.ErrorIs(t, err, ErrNilKey)
	_, err = m.Get(ctx, nil)
	assert.ErrorIs(t, err, ErrNilKey)
	_, err = m.Remove(ctx, nil)
	assert.ErrorIs(t, err, ErrNilKey)
}

func TestRetryOnConnectFailure(t *testing.T) {
	_, addr := startMember(t)
	connector := &flakyConnector{IClientConnector: tcp.NewClientConnector()}
	connector.failures.Store(2)

	config := testConfig(addr)
	config.RetryCount = 3
	c := New(config, connector)
	defer func() { _ = c.Shutdown(context.Background()) }()

	require.NoError(t, c.Ping(testCtx(t)))
	assert.Equal(t, int32(3), connector.attempts.Load())
}

func TestRetriesExhausted(t *testing.T) {
	connector := &flakyConnector{IClientConnector: tcp.NewClientConnector()}
	connector.failures.Store(100)

	config := testConfig("127.0.0.1:1")
	config.RetryCount = 2
	c := New(config, connector)
	defer func() { _ = c.Shutdown(context.Background()) }()

	err := c.Ping(testCtx(t))
	assert.Error(t, err)
	assert.Equal(t, int32(3), connector.attempts.Load())
}

func TestRemoteErrorIsNotRetried(t *testing.T) {
	_, addr := startMember(t)
	c := newTestClient(t, testConfig(addr), tcp.NewClientConnector())

	req := protocol.NewRequest(0x7F7F00, -1, 0)
	req.Retryable = true
	_, err := c.Invoke(testCtx(t), req)

	var remote *codec.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, codec.ErrCodeUnknownOperation, remote.Code)
}

func TestShutdown(t *testing.T) {
	_, addr := startMember(t)
	c := New(testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)
	require.NoError(t, c.Connect(ctx))

	m, err := c.GetMap(ctx, "m", WithNearCache(4, 5))
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))

	_, err = m.Put(ctx, []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrClientShutdown)
	assert.ErrorIs(t, c.Ping(ctx), ErrClientShutdown)
	_, err = c.GetMap(ctx, "other")
	assert.ErrorIs(t, err, ErrClientShutdown)
}

func TestShutdownContinuesAfterTimeout(t *testing.T) {
	_, addr := startMember(t)
	c := New(testConfig(addr), tcp.NewClientConnector())
	ctx := testCtx(t)
	require.NoError(t, c.Connect(ctx))
	require.Positive(t, c.connections.Len())

	// a running invocation holds a read ticket
	ticket, err := c.enter(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(short), context.DeadlineExceeded)
	assert.ErrorIs(t, c.Ping(ctx), ErrClientShutdown)
	assert.Positive(t, c.connections.Len())

	ticket.Release()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 0, c.connections.Len())
	require.NoError(t, c.Shutdown(ctx))
}

func TestUnknownEventIsDropped(t *testing.T) {
	c := New(testConfig("127.0.0.1:1"), tcp.NewClientConnector())
	defer func() { _ = c.Shutdown(context.Background()) }()

	called := atomic.Bool{}
	reg := &registration{listenerTarget: listenerTarget{mapName: "m", entry: EntryListenerFunc(func(codec.EntryEvent) error {
		called.Store(true)
		return nil
	})}, correlationID: 5}
	reg.sub = newSubscription(reg)
	c.registrations.Store(5, reg)

	ev := protocol.NewEvent(0x7F7F02, 0, 0)
	ev.SetCorrelationID(5)
	c.handleEvent(ev)

	// an entry event for an unknown registration is dropped as well
	other := codec.EncodeEntryEvent(0, 6, codec.EntryEvent{Name: "m", Type: codec.EntryAdded, Key: []byte("k")})
	c.handleEvent(other)

	require.NoError(t, c.scheduler.Dispose(testCtx(t)))
	assert.False(t, called.Load())
}
