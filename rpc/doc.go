// Package rpc groups the network side of the grid runtime: the operation
// codecs, the transports, the client and the in-memory member.
//
// The package is organized into several subpackages:
//
//   - common: configuration structures and logger setup shared by client
//     and member.
//
//   - codec: message types and the encoders/decoders of every operation and
//     event on top of lib/protocol.
//
//   - transport: connection contracts with the base implementation and the
//     tcp and unix connectors.
//
//   - serializer: whole-message serialization (binary wire bytes, JSON) for
//     output and debugging.
//
//   - client: the client runtime with retries, listener delivery through the
//     partitioned scheduler and near caching.
//
//   - server: a single in-memory member answering the map operations.
package rpc
