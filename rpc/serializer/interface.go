package serializer

import "github.com/ValentinKolb/dGrid/lib/protocol"

// IMessageSerializer converts whole messages to bytes and back. It is used
// where a message leaves the connection, e.g. CLI output and dumps.
type IMessageSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg *protocol.Message) ([]byte, error)
	// Deserialize rebuilds a Message from the output of Serialize
	Deserialize(b []byte) (*protocol.Message, error)
}
