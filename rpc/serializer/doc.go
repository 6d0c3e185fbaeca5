// Package serializer converts complete protocol messages to bytes and back,
// outside of a connection. The CLI uses it to print responses and events, and
// to dump messages for debugging.
//
// Key Components:
//
//   - IMessageSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: the frame wire format, byte for byte what a
//     connection writes. Smallest and fastest.
//
//   - jsonSerializerImpl: a JSON document with the operation name, the header
//     fields and every frame (flags and base64 payload). Human-readable and
//     still lossless, the frames rebuild the message.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewJSONSerializer()
//	data, err := s.Serialize(msg)
//	// ... print or store data ...
//	msg, err = s.Deserialize(data)
package serializer
