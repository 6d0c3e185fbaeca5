package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

var (
	sentTotal      = telemetry.Counter("dgrid_transport_messages_sent_total")
	receivedTotal  = telemetry.Counter("dgrid_transport_messages_received_total")
	malformedTotal = telemetry.Counter("dgrid_transport_malformed_messages_total")
	eventsTotal    = telemetry.Counter("dgrid_transport_events_received_total")
)

var connectionIDs = util.NewSequence(1)

// invocationResult is the outcome of one invocation
type invocationResult struct {
	msg *protocol.Message
	err error
}

// Connection is a client connection to one member. A reader goroutine
// reassembles incoming messages and hands responses to the waiting
// invocation and events to the event callback. A writer goroutine drains
// the outbound queue.
type Connection struct {
	id       int64
	endpoint string
	conn     net.Conn
	config   common.ClientConfig

	outbound    *util.LockFreeMPSC[protocol.Message]
	pending     *xsync.MapOf[int64, chan invocationResult]
	reassembler *protocol.Reassembler
	onEvent     transport.EventHandleFunc

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  atomic.Value
}

// Dial opens a connection to endpoint, sends the preface and starts the
// reader and writer goroutines. onEvent may be nil.
func Dial(ctx context.Context, connector transport.IClientConnector, endpoint string,
	config common.ClientConfig, onEvent transport.EventHandleFunc) (*Connection, error) {

	conn, err := connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := connector.UpgradeConnection(conn, config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	if err := protocol.WritePreface(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send preface to %s: %w", endpoint, err)
	}

	c := &Connection{
		id:          connectionIDs.Next(),
		endpoint:    endpoint,
		conn:        conn,
		config:      config,
		outbound:    util.NewLockFreeMPSC[protocol.Message](),
		pending:     xsync.NewMapOf[int64, chan invocationResult](),
		reassembler: protocol.NewReassembler(),
		onEvent:     onEvent,
		closed:      make(chan struct{}),
	}

	go writeLoop(conn, c.outbound, config.Socket.WriteBufferSize, config.Frame.FragmentThreshold, config.Timeout(),
		func(err error) { c.closeWithError(fmt.Errorf("write failed: %w", err)) })
	go c.readLoop()

	Logger.Debugf("connection %d to %s opened using %s transport", c.id, endpoint, connector.GetName())
	return c, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *Connection) Invoke(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	id := req.CorrelationID()
	ch := make(chan invocationResult, 1)
	if _, loaded := c.pending.LoadOrStore(id, ch); loaded {
		return nil, fmt.Errorf("correlation id %d is already in flight on connection %d", id, c.id)
	}
	defer c.pending.Delete(id)

	if err := c.Send(req); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.Err()
	}
}

func (c *Connection) Send(msg *protocol.Message) error {
	select {
	case <-c.closed:
		return c.Err()
	default:
	}
	if !c.outbound.Push(msg) {
		return c.Err()
	}
	return nil
}

func (c *Connection) Endpoint() string { return c.endpoint }

func (c *Connection) Closed() <-chan struct{} { return c.closed }

func (c *Connection) Close() error {
	c.closeWithError(transport.ErrConnectionClosed)
	return nil
}

// --------------------------------------------------------------------------
// Public Helpers
// --------------------------------------------------------------------------

// ID returns the process wide connection id
func (c *Connection) ID() int64 { return c.id }

// Err returns why the connection was closed, nil while it is open
func (c *Connection) Err() error {
	select {
	case <-c.closed:
	default:
		return nil
	}
	if err, ok := c.closeErr.Load().(error); ok {
		return err
	}
	return transport.ErrConnectionClosed
}

// PendingCount returns the number of invocations waiting for a response
func (c *Connection) PendingCount() int {
	return c.pending.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readLoop reads messages until the connection fails
func (c *Connection) readLoop() {
	r := newReader(c.conn, c.config.Socket.ReadBufferSize, c.config.Frame.MaxFrameSize)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				malformedTotal.Inc()
				Logger.Warningf("connection %d dropped a malformed message: %v", c.id, err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = transport.ErrConnectionClosed
			}
			c.closeWithError(err)
			return
		}

		whole, done, err := c.reassembler.Accept(msg)
		if err != nil {
			malformedTotal.Inc()
			Logger.Warningf("connection %d dropped a fragment: %v", c.id, err)
			continue
		}
		if done {
			c.dispatch(whole)
		}
	}
}

// dispatch routes a complete message to its invocation or the event callback
func (c *Connection) dispatch(msg *protocol.Message) {
	receivedTotal.Inc()
	if msg.IsEvent() {
		eventsTotal.Inc()
		if c.onEvent == nil {
			Logger.Debugf("connection %d dropped event %s, no event handler", c.id, msg)
			return
		}
		c.onEvent(msg)
		return
	}

	ch, ok := c.pending.LoadAndDelete(msg.CorrelationID())
	if !ok {
		Logger.Warningf("connection %d received a response for unknown correlation id %d (%s)", c.id, msg.CorrelationID(), msg)
		return
	}
	ch <- invocationResult{msg: msg}
}

// closeWithError closes the connection once and fails all pending invocations
func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeErr.Store(err)
		close(c.closed)
		c.outbound.Close()
		_ = c.conn.Close()

		c.pending.Range(func(id int64, ch chan invocationResult) bool {
			if _, ok := c.pending.LoadAndDelete(id); ok {
				ch <- invocationResult{err: err}
			}
			return true
		})

		if errors.Is(err, transport.ErrConnectionClosed) {
			Logger.Debugf("connection %d to %s closed", c.id, c.endpoint)
		} else {
			Logger.Warningf("connection %d to %s closed: %v", c.id, c.endpoint, err)
		}
	})
}
