// Package transport defines the contracts between the client, the member and
// the socket implementations.
//
// Key Components:
//
//   - IClientConnector / IServerConnector: the socket specific parts (dial,
//     listen, socket options) implemented by the tcp and unix packages.
//
//   - IConnection: one client connection. Requests are matched to responses
//     by correlation id, push events go to an EventHandleFunc.
//
//   - IRPCServerTransport and ServerHandleFunc: the member side, which hands
//     every reassembled request to the handler and may push events to any
//     IServerConnection.
//
// All connections speak the frame protocol of lib/protocol and open with the
// protocol.Preface.
package transport
