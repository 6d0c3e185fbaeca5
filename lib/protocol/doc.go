// Package protocol implements the binary framing model every request,
// response and push event of the client rides on.
//
// A Message is an ordered chain of Frames. Each frame carries a set of Flags
// and a payload. The first frame (the initial frame) holds a fixed size header:
//
//	offset  size  field
//	0       4     message type   (int32)
//	4       4     partition id   (int32, -1 if not partition bound)
//	8       8     correlation id (int64)
//	16      ...   operation specific fixed fields
//
// Responses carry one extra byte (backup acks) at offset 16. All header fields
// are written in a declared Endianness, big-endian unless a call asks for
// little-endian (the helpers with an L suffix). Readers must use the
// endianness the writer used.
//
// Subsequent frames carry variable length parameters written by operation
// codecs. Codecs append frames with Message.Append and read them back with the
// Iterator cursor (Take, and the Current/Next peeks). Frame links are private
// to this package: a Message exclusively owns its frames and a frame can never
// be appended to two messages.
//
// On the wire every frame is
//
//	int32 frame length (header included) | uint16 flags | payload
//
// in big-endian byte order; the last frame of a message carries FlagIsFinal.
// Messages larger than a threshold are split by Fragment into fragments that
// share one fragmentation id (the correlation id). A Reassembler buffers
// incoming fragments by id and hands out the complete message once the
// EndFragment fragment arrived.
//
// Error taxonomy:
//
//   - ErrOutOfRange: an offset/length points outside a payload
//   - ErrMalformedFrame: a frame or message is not well formed; the message
//     is lost, the connection survives
//   - ErrCorruptStream: the byte stream cannot be resynchronized; the
//     connection has to be closed
//   - ErrFrameOwned: a frame was appended to a second message
package protocol
