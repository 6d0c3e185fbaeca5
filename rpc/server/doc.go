// Package server implements a single in-memory grid member. It is the
// counterpart the client runtime talks to in tests and in `dgrid serve`.
//
// The package focuses on:
//   - Answering the map operations of the rpc/codec package
//   - Pushing entry and near cache invalidation events to registered listeners
//   - Entry expiry based on the time-to-live of a put
//
// Key Components:
//
//   - Member: owns the named maps (one xsync map each) and the listener
//     registry. Its Handle method is the transport handler.
//
//   - handlers: a dispatch table from request type to handler method. An
//     unknown type is answered with an UnknownOperation error response.
//
// Events:
//
// A listener registration remembers the correlation id of the request that
// created it. Every event pushed for the registration carries that id, so the
// client can route it without a lookup by registration id. Events of one key
// are published while the key is locked, so they reach the client in the
// order the changes were applied. Registrations are dropped when their
// connection closes.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Endpoint = "0.0.0.0:5701"
//
//	m := server.NewMember(config, tcp.NewTCPServerTransport())
//	if err := m.Serve(); err != nil {
//	  panic(err)
//	}
package server
