// Package unix implements the transport layer of the grid over Unix domain
// sockets, for clients running on the same machine as the member.
//
// This package only contributes the connectors. Framing, fragmentation,
// correlation and worker handling come from the base package.
//
// Key Components:
//
//   - clientConnector: establishes connections using Unix domain sockets
//
//   - serverConnector: removes a stale socket file and creates the listener
package unix
