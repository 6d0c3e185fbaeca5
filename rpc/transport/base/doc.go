// Package base provides the protocol-agnostic part of the grid transport.
// The tcp and unix packages only add connectors on top of it.
//
// Wire format:
//
// A connection starts with the three byte preface "CP2" sent by the client.
// After that both sides exchange messages made of frames (see lib/protocol).
// Messages above the configured fragment threshold are split into fragments
// on write and reassembled on read.
//
// Key Components:
//
//   - Connection: a client connection to one member. Invoke registers the
//     correlation id of the request, queues it and waits for the response.
//     Event messages are handed to the EventHandleFunc given to Dial.
//
//   - serverTransport: accepts connections, checks the preface and runs the
//     registered handler on a bounded worker pool per connection. Responses
//     and pushed events share one outbound queue per connection.
//
// Performance Optimizations:
//
//   - Outbound queues are lock-free MPSC queues drained by one writer
//     goroutine per connection, so producers never contend on the socket.
//
//   - The writer flushes its buffer only when the queue runs dry, which
//     batches bursts into few syscalls.
//
//   - Frames are written with net.Buffers to combine header and payload.
//
// Thread Safety:
//
//	All public methods are thread-safe. A malformed message only drops that
//	message, any other read error closes the connection and fails every
//	pending invocation.
package base
