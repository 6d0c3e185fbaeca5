package unix

import (
	"context"
	"net"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "unix", endpoint)
}

// UpgradeConnection only applies the socket buffer sizes, tcp options do not
// apply to unix sockets
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return base.UpgradeClientSocket(conn, config)
}

// --------------------------------------------------------------------------
// Client Connector Factory Method
// --------------------------------------------------------------------------

// NewClientConnector creates a new Unix client connector
func NewClientConnector() transport.IClientConnector {
	return &clientConnector{}
}
