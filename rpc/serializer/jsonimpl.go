package serializer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IMessageSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IMessageSerializer interface using json
// encoding. The header fields are included for reading, only the frames are
// used to rebuild the message.
type jsonSerializerImpl struct{}

type jsonFrame struct {
	Flags     uint16 `json:"flags"`
	FlagNames string `json:"flagNames"`
	Payload   []byte `json:"payload"`
}

type jsonMessage struct {
	Type          string      `json:"type,omitempty"`
	PartitionID   int32       `json:"partitionId"`
	CorrelationID int64       `json:"correlationId"`
	Frames        []jsonFrame `json:"frames"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (j *jsonSerializerImpl) Serialize(msg *protocol.Message) ([]byte, error) {
	if msg == nil || msg.FrameCount() == 0 {
		return nil, errors.New("cannot serialize an empty message")
	}

	out := jsonMessage{
		Type:        msg.OperationName,
		PartitionID: -1,
		Frames:      make([]jsonFrame, 0, msg.FrameCount()),
	}
	if !msg.IsFragment() && msg.ValidateHeader() == nil {
		out.PartitionID = msg.PartitionID()
		out.CorrelationID = msg.CorrelationID()
	}
	for it := msg.Iterator(); it.HasNext(); {
		f, _ := it.Take()
		out.Frames = append(out.Frames, jsonFrame{
			Flags:     uint16(f.Flags()),
			FlagNames: f.Flags().String(),
			Payload:   f.Payload(),
		})
	}
	return json.Marshal(out)
}

func (j *jsonSerializerImpl) Deserialize(b []byte) (*protocol.Message, error) {
	var in jsonMessage
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	if len(in.Frames) == 0 {
		return nil, fmt.Errorf("%w: message without frames", protocol.ErrMalformedFrame)
	}

	msg := protocol.NewMessage(protocol.NewFrame(in.Frames[0].Payload, protocol.Flags(in.Frames[0].Flags)))
	for _, f := range in.Frames[1:] {
		if err := msg.Append(protocol.NewFrame(f.Payload, protocol.Flags(f.Flags))); err != nil {
			return nil, err
		}
	}
	msg.OperationName = in.Type
	return msg, nil
}
