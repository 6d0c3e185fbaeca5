// Package tcp implements the TCP socket transport of the grid client and
// member. It provides the connectors the base package needs to dial and
// accept TCP connections.
//
// Key Components:
//
//   - clientConnector: dials members and applies TCPConf/SocketConf options
//
//   - serverConnector: creates the member listener and tunes accepted sockets
//
// All framing, fragmentation, correlation and worker handling is inherited
// from the base package.
package tcp
