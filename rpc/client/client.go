package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/asynccache"
	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/rwlock"
	"github.com/ValentinKolb/dGrid/lib/scheduler"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/base"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("client")

var (
	// ErrClientShutdown is returned by every operation after Shutdown
	ErrClientShutdown = errors.New("client is shut down")
	// ErrNoEndpoints is returned by Connect if the configuration lists no member
	ErrNoEndpoints = errors.New("no endpoints configured")
	// ErrNilKey is returned by map operations for a nil key
	ErrNilKey = errors.New("key must not be nil")
)

var (
	invocationTimer = telemetry.Timer("client.invocation")
	retriesTotal    = telemetry.Counter("dgrid_client_invocation_retries_total")
	failuresTotal   = telemetry.Counter("dgrid_client_invocation_failures_total")
)

// connKey identifies one connection slot of an endpoint
type connKey struct {
	endpoint string
	slot     int
}

func (k connKey) String() string { return fmt.Sprintf("%s#%d", k.endpoint, k.slot) }

// Option configures a Client
type Option func(*Client)

// WithErrorHandler sets the callback for listener errors. Without one, failed
// listener calls are logged.
func WithErrorHandler(fn func(*scheduler.ErrorEvent)) Option {
	return func(c *Client) { c.onListenerError = fn }
}

// Client is the entry point of the runtime. It owns the connections to the
// members, the event scheduler for listeners and the map proxies.
//
// Invocations hold a read ticket of the lifecycle lock. Shutdown takes the
// write ticket, so it waits for running invocations.
type Client struct {
	config    common.ClientConfig
	connector transport.IClientConnector
	slots     []connKey
	next      atomic.Uint64

	correlationIDs *util.Sequence
	connections    *asynccache.Cache[connKey, *base.Connection]
	proxies        *asynccache.Cache[string, *Map]
	registrations  *xsync.MapOf[int64, *registration]
	scheduler      *scheduler.Scheduler
	lifecycle      *rwlock.RWLock
	shutdown       atomic.Bool

	// teardownMu serializes Shutdown calls, closed is set once the teardown
	// completed
	teardownMu sync.Mutex
	closed     bool

	onListenerError func(*scheduler.ErrorEvent)
}

// New creates a client for the members in config. No connection is opened
// before Connect or the first invocation.
//
// Usage:
//
//	c := client.New(common.DefaultClientConfig(), tcp.NewClientConnector())
//	if err := c.Connect(ctx); err != nil {
//		panic(err)
//	}
//	defer c.Shutdown(ctx)
func New(config common.ClientConfig, connector transport.IClientConnector, opts ...Option) *Client {
	c := &Client{
		config:         config,
		connector:      connector,
		correlationIDs: util.NewSequence(1),
		connections:    asynccache.New[connKey, *base.Connection](asynccache.WithName[*base.Connection]("connections")),
		proxies:        asynccache.New[string, *Map](asynccache.WithName[*Map]("proxies")),
		registrations:  xsync.NewMapOf[int64, *registration](),
		lifecycle:      rwlock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, endpoint := range config.Endpoints {
		for slot := 0; slot < config.ConnsPerEndpoint(); slot++ {
			c.slots = append(c.slots, connKey{endpoint: endpoint, slot: slot})
		}
	}

	onError := c.onListenerError
	if onError == nil {
		onError = func(ev *scheduler.ErrorEvent) {
			Logger.Warningf("listener failed on %s: %v", ev.Message, ev.Err)
			ev.Handled = true
		}
	}
	c.scheduler = scheduler.New(scheduler.WithName("client"), scheduler.WithErrorHandler(onError))

	return c
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Connect opens every configured connection and pings each member once
func (c *Client) Connect(ctx context.Context) error {
	if len(c.slots) == 0 {
		return ErrNoEndpoints
	}

	ticket, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer ticket.Release()

	for _, key := range c.slots {
		conn, err := c.connection(ctx, key)
		if err != nil {
			return err
		}
		req := codec.EncodeClientPingRequest()
		req.SetCorrelationID(c.correlationIDs.Next())
		resp, err := conn.Invoke(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to ping %s: %w", key, err)
		}
		if err := codec.CheckResponse(resp, codec.MsgTClientPingResponse); err != nil {
			return fmt.Errorf("failed to ping %s: %w", key, err)
		}
	}

	Logger.Infof("client connected to %d endpoint(s) with %d connection(s) each", len(c.config.Endpoints), c.config.ConnsPerEndpoint())
	return nil
}

// Invoke sends req to a member and returns the response. A retryable request
// is sent again on connection failures, every request is sent again if the
// member answered with a retryable error. Each attempt uses a fresh
// correlation id. An error response is returned as *codec.RemoteError.
func (c *Client) Invoke(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	ticket, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()
	return c.invoke(ctx, req, nil)
}

// Ping checks that a member answers
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Invoke(ctx, codec.EncodeClientPingRequest())
	if err != nil {
		return err
	}
	return codec.CheckResponse(resp, codec.MsgTClientPingResponse)
}

// GetMap returns the proxy of the named map, creating it on the member on
// first use. The options of the first call for a name are kept.
func (c *Client) GetMap(ctx context.Context, name string, opts ...MapOption) (*Map, error) {
	ticket, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	return c.proxies.GetOrAdd(ctx, name, func(ctx context.Context, name string) (*Map, error) {
		return c.createMap(ctx, name, opts...)
	})
}

// Shutdown rejects new operations with ErrClientShutdown, runs the listener
// events already queued, waits for running invocations and closes all
// connections. If ctx ends before the invocations finished, a later call
// continues the teardown. Once it completed, calling it again is a no-op.
func (c *Client) Shutdown(ctx context.Context) error {
	c.teardownMu.Lock()
	defer c.teardownMu.Unlock()
	if c.closed {
		return nil
	}
	c.shutdown.Store(true)

	var errs []error

	// listeners may still call the client, they fail fast from here on
	if err := c.scheduler.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain listener events: %w", err))
	}

	ticket, err := c.lifecycle.WriteLock(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("failed to wait for running invocations: %w", err))...)
	}

	c.registrations.Range(func(id int64, reg *registration) bool {
		reg.sub.Deactivate()
		c.registrations.Delete(id)
		return true
	})

	for name, m := range c.proxies.All() {
		m.close()
		Logger.Debugf("closed proxy %s", name)
	}
	c.proxies.Clear()

	for _, conn := range c.connections.All() {
		_ = conn.Close()
	}
	c.connections.Clear()
	c.closed = true

	ticket.Release()
	if err := c.lifecycle.Dispose(ctx); err != nil {
		errs = append(errs, err)
	}

	Logger.Infof("client shut down")
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// enter takes a read ticket of the lifecycle lock
func (c *Client) enter(ctx context.Context) (*rwlock.Ticket, error) {
	ticket, err := c.lifecycle.ReadLock(ctx)
	if errors.Is(err, rwlock.ErrDisposed) {
		return nil, ErrClientShutdown
	}
	if err != nil {
		return nil, err
	}
	if c.shutdown.Load() {
		ticket.Release()
		return nil, ErrClientShutdown
	}
	return ticket, nil
}

// attemptHook is called with the connection and correlation id of every
// attempt before it is sent. The returned func is called if the attempt failed.
type attemptHook func(conn *base.Connection, correlationID int64) (undo func())

// invoke runs the retry loop of one request, the caller holds a read ticket
func (c *Client) invoke(ctx context.Context, req *protocol.Message, hook attemptHook) (*protocol.Message, error) {
	start := time.Now()
	defer invocationTimer.UpdateSince(start)

	if len(c.slots) == 0 {
		return nil, ErrNoEndpoints
	}
	if timeout := c.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	backoff := time.Duration(c.config.InvocationBackoffMs) * time.Millisecond
	maxAttempts := 1 + max(0, c.config.RetryCount)

	for attempt := 1; ; attempt++ {
		msg := req
		id := c.correlationIDs.Next()
		if attempt == 1 {
			req.SetCorrelationID(id)
		} else {
			msg = req.CopyWithNewCorrelationID(id)
		}

		resp, sent, err := c.attempt(ctx, msg, hook)
		if err == nil {
			return resp, nil
		}

		if !c.retryable(req, sent, err) || attempt >= maxAttempts || ctx.Err() != nil {
			failuresTotal.Inc()
			return nil, fmt.Errorf("%s failed after %d attempt(s): %w", operationName(req), attempt, err)
		}

		retriesTotal.Inc()
		Logger.Debugf("retrying %s (attempt %d/%d) after %v: %v", operationName(req), attempt+1, maxAttempts, backoff, err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			failuresTotal.Inc()
			return nil, fmt.Errorf("%s failed after %d attempt(s): %w", operationName(req), attempt, ctx.Err())
		}
		backoff *= 2
	}
}

// attempt sends msg once. sent reports whether msg may have reached a member.
func (c *Client) attempt(ctx context.Context, msg *protocol.Message, hook attemptHook) (resp *protocol.Message, sent bool, err error) {
	conn, err := c.connection(ctx, c.nextSlot())
	if err != nil {
		return nil, false, err
	}

	var undo func()
	if hook != nil {
		undo = hook(conn, msg.CorrelationID())
	}

	resp, err = conn.Invoke(ctx, msg)
	if err == nil && codec.TypeOf(resp) == codec.MsgTError {
		remote, decodeErr := codec.DecodeErrorResponse(resp)
		if decodeErr != nil {
			err = fmt.Errorf("failed to decode error response: %w", decodeErr)
		} else {
			err = remote
		}
	}
	if err != nil && undo != nil {
		undo()
	}
	return resp, true, err
}

// retryable decides whether a failed attempt may be repeated
func (c *Client) retryable(req *protocol.Message, sent bool, err error) bool {
	var remote *codec.RemoteError
	if errors.As(err, &remote) {
		// the member did not run the operation
		return remote.Code.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if !sent {
		return true
	}
	var netErr net.Error
	return req.Retryable && (errors.Is(err, transport.ErrConnectionClosed) || errors.As(err, &netErr) || errors.Is(err, net.ErrClosed))
}

// nextSlot picks the connection slot round robin
func (c *Client) nextSlot() connKey {
	return c.slots[(c.next.Add(1)-1)%uint64(len(c.slots))]
}

// connection returns the open connection of key, dialing it if needed
func (c *Client) connection(ctx context.Context, key connKey) (*base.Connection, error) {
	for {
		conn, err := c.connections.GetOrAdd(ctx, key, c.dial)
		if err != nil {
			return nil, err
		}
		if conn.Err() == nil {
			return conn, nil
		}
		// closed connection not yet evicted by its watcher
		c.connections.TryRemoveIf(key, sameConnection(conn))
	}
}

// dial is the factory of the connection cache
func (c *Client) dial(ctx context.Context, key connKey) (*base.Connection, error) {
	if c.shutdown.Load() {
		return nil, ErrClientShutdown
	}
	conn, err := base.Dial(ctx, c.connector, key.endpoint, c.config, c.handleEvent)
	if err != nil {
		return nil, err
	}

	go c.watch(key, conn)
	return conn, nil
}

// watch evicts conn once it closes and drops the listeners bound to it
func (c *Client) watch(key connKey, conn *base.Connection) {
	<-conn.Closed()

	c.connections.TryRemoveIf(key, sameConnection(conn))

	c.registrations.Range(func(id int64, reg *registration) bool {
		if reg.conn == conn {
			reg.sub.Deactivate()
			c.registrations.Delete(id)
			// the near cache no longer learns about remote writes
			if reg.nearCache != nil {
				reg.nearCache.disable()
			}
			if !c.shutdown.Load() {
				Logger.Warningf("listener %s on %s lost with connection %s", reg.ID(), reg.mapName, key)
			}
		}
		return true
	})
}

func sameConnection(conn *base.Connection) func(*base.Connection) bool {
	return func(cur *base.Connection) bool { return cur == conn }
}

func operationName(m *protocol.Message) string {
	if m.OperationName != "" {
		return m.OperationName
	}
	return codec.TypeOf(m).String()
}
