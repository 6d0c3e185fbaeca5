package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/lib/util"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	acceptedTotal      = telemetry.Counter("dgrid_transport_connections_accepted_total")
	handlerPanicsTotal = telemetry.Counter("dgrid_transport_handler_panics_total")
)

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core member side transport functionality
type serverTransport struct {
	connector transport.IServerConnector
	handler   transport.ServerHandleFunc

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool

	conns   *xsync.MapOf[uint64, *serverConnection]
	nextID  atomic.Uint64
	workers sync.WaitGroup
}

// serverConnection is one accepted connection. Responses and events share
// the outbound queue, so a single writer owns the socket.
type serverConnection struct {
	id       uint64
	conn     net.Conn
	outbound *util.LockFreeMPSC[protocol.Message]

	closeOnce sync.Once
	closed    chan struct{}
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with a bounded
// worker pool per connection
func NewBaseServerTransport(connector transport.IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[uint64, *serverConnection](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return t.Serve(listener, config)
}

func (t *serverTransport) Serve(listener net.Listener, config common.ServerConfig) error {
	if t.handler == nil {
		_ = listener.Close()
		return errors.New("no handler registered")
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = listener.Close()
		return net.ErrClosed
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), max(1, config.WorkersPerConn))

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.closed.Load() {
				Logger.Infof("%s server on %s stopped", t.connector.GetName(), listener.Addr())
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn, config)
	}
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	t.closed.Store(true)
	listener := t.listener
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	t.conns.Range(func(_ uint64, sc *serverConnection) bool {
		sc.close()
		return true
	})
	t.workers.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads requests from one connection and hands them to the
// worker pool until the connection fails
func (t *serverTransport) handleConnection(conn net.Conn, config common.ServerConfig) {
	acceptedTotal.Inc()

	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	// The client must open with the preface
	timeout := config.Timeout()
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	if err := protocol.ReadPreface(conn); err != nil {
		Logger.Warningf("Rejected connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sc := &serverConnection{
		id:       t.nextID.Add(1),
		conn:     conn,
		outbound: util.NewLockFreeMPSC[protocol.Message](),
		closed:   make(chan struct{}),
	}
	t.conns.Store(sc.id, sc)
	t.workers.Add(1)
	defer func() {
		t.conns.Delete(sc.id)
		t.workers.Done()
	}()

	if t.closed.Load() {
		sc.close()
		_ = conn.Close()
		return
	}

	// The socket is closed once the writer drained the queue
	go func() {
		writeLoop(conn, sc.outbound, config.Socket.WriteBufferSize, config.Frame.FragmentThreshold, timeout,
			func(err error) {
				Logger.Warningf("Failed to write to connection %d: %v", sc.id, err)
				sc.close()
			})
		_ = conn.Close()
	}()

	Logger.Debugf("Accepted connection %d from %s", sc.id, sc.RemoteAddr())

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, max(1, config.WorkersPerConn))

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	reader := newReader(conn, config.Socket.ReadBufferSize, config.Frame.MaxFrameSize)
	reassembler := protocol.NewReassembler()

	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				malformedTotal.Inc()
				Logger.Warningf("Connection %d sent a malformed message: %v", sc.id, err)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				Logger.Debugf("Connection %d closed by client", sc.id)
			} else {
				Logger.Errorf("Error reading from connection %d: %v", sc.id, err)
			}
			break
		}

		req, done, err := reassembler.Accept(msg)
		if err != nil {
			malformedTotal.Inc()
			Logger.Warningf("Connection %d sent a bad fragment: %v", sc.id, err)
			continue
		}
		if !done {
			continue
		}
		receivedTotal.Inc()

		// Acquire a slot in the semaphore (blocks if the worker limit is reached)
		workerSemaphore <- struct{}{}
		wg.Add(1)

		go func() {
			defer func() {
				<-workerSemaphore
				wg.Done()
			}()
			if resp := t.invoke(sc, req); resp != nil {
				_ = sc.Push(resp)
			}
		}()
	}

	// Wait for all workers to finish before closing the connection
	wg.Wait()
	sc.close()
}

// invoke calls the handler and converts a panic into an error response
func (t *serverTransport) invoke(sc *serverConnection, req *protocol.Message) (resp *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanicsTotal.Inc()
			Logger.Errorf("Handler panicked on %s: %v", req, r)
			resp = codec.EncodeErrorResponse(req.CorrelationID(), codec.ErrCodeUndefined, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return t.handler(sc, req)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnection)
// --------------------------------------------------------------------------

func (sc *serverConnection) ID() uint64 { return sc.id }

func (sc *serverConnection) RemoteAddr() string { return sc.conn.RemoteAddr().String() }

func (sc *serverConnection) Push(msg *protocol.Message) error {
	select {
	case <-sc.closed:
		return transport.ErrConnectionClosed
	default:
	}
	if !sc.outbound.Push(msg) {
		return transport.ErrConnectionClosed
	}
	return nil
}

func (sc *serverConnection) Closed() <-chan struct{} { return sc.closed }

// close stops accepting pushes, the writer flushes what is queued
func (sc *serverConnection) close() {
	sc.closeOnce.Do(func() {
		close(sc.closed)
		sc.outbound.Close()
	})
}
