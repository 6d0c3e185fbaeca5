package transport

import (
	"context"
	"errors"
	"net"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/rpc/common"
)

// ErrConnectionClosed is returned for operations on a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// --------------------------------------------------------------------------
// Connectors (one per socket kind)
// --------------------------------------------------------------------------

// IClientConnector defines the transport-specific connection operations of a client
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// IServerConnector defines the transport-specific operations of a member
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Side
// --------------------------------------------------------------------------

// EventHandleFunc receives the push events arriving on a client connection.
// It runs on the connection's reader goroutine and must not block.
type EventHandleFunc func(msg *protocol.Message)

// IConnection is one client connection to a member
type IConnection interface {
	// Invoke sends req and waits for the response with the same correlation id
	Invoke(ctx context.Context, req *protocol.Message) (*protocol.Message, error)
	// Send queues msg without waiting for an answer
	Send(msg *protocol.Message) error
	// Endpoint returns the address the connection was opened to
	Endpoint() string
	// Closed is closed once the connection is gone
	Closed() <-chan struct{}
	// Close closes the connection, pending invocations fail
	Close() error
}

// --------------------------------------------------------------------------
// Server Side
// --------------------------------------------------------------------------

// IServerConnection is one accepted client connection on a member
type IServerConnection interface {
	ID() uint64
	RemoteAddr() string
	// Push queues an event for the client
	Push(msg *protocol.Message) error
	// Closed is closed once the connection is gone
	Closed() <-chan struct{}
}

// ServerHandleFunc handles one request and returns the response, nil sends
// nothing. It is called concurrently, bounded per connection.
type ServerHandleFunc func(conn IServerConnection, req *protocol.Message) (resp *protocol.Message)

// IRPCServerTransport is the interface for the member side transport
type IRPCServerTransport interface {
	// RegisterHandler registers the request handler, call it before Listen
	RegisterHandler(handler ServerHandleFunc)
	// Listen creates the listener and serves it until Close
	Listen(config common.ServerConfig) error
	// Serve accepts connections on an existing listener until Close
	Serve(listener net.Listener, config common.ServerConfig) error
	// Close stops accepting and closes all connections
	Close() error
}
