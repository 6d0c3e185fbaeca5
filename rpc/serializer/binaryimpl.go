package serializer

import (
	"errors"

	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// NewBinarySerializer creates a new serializer using the wire format of the
// frame protocol
func NewBinarySerializer() IMessageSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements the IMessageSerializer interface with the
// frame wire format. The output is exactly what a connection would write.
type binarySerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (s *binarySerializerImpl) Serialize(msg *protocol.Message) ([]byte, error) {
	if msg == nil || msg.FrameCount() == 0 {
		return nil, errors.New("cannot serialize an empty message")
	}
	return protocol.AppendMessage(make([]byte, 0, msg.WireSize()), msg), nil
}

func (s *binarySerializerImpl) Deserialize(b []byte) (*protocol.Message, error) {
	return protocol.DecodeMessage(b)
}
