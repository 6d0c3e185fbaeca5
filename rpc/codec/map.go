package codec

import (
	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// fixed fields of Map.Put
const mapPutTTLOffset = protocol.RequestHeaderSize

// MapKeyRequest is the decoded form of Map.Get and Map.Remove
type MapKeyRequest struct {
	Name string
	Key  []byte
}

// MapPutRequest is the decoded form of Map.Put
type MapPutRequest struct {
	Name  string
	Key   []byte
	Value []byte
	// TTLMillis is the time to live, -1 means forever
	TTLMillis int64
}

// --------------------------------------------------------------------------
// Map.Put
// --------------------------------------------------------------------------

func EncodeMapPutRequest(partitionID int32, name string, key, value []byte, ttlMillis int64) *protocol.Message {
	m := protocol.NewRequest(int32(MsgTMapPut), partitionID, 8)
	m.OperationName = MsgTMapPut.String()
	_ = protocol.PutInt64(m.InitialPayload(), mapPutTTLOffset, ttlMillis, protocol.BigEndian)
	protocol.EncodeString(m, name)
	protocol.EncodeBytes(m, key)
	protocol.EncodeBytes(m, value)
	return m
}

func DecodeMapPutRequest(m *protocol.Message) (MapPutRequest, error) {
	var req MapPutRequest
	var err error
	if req.TTLMillis, err = protocol.Int64(m.InitialPayload(), mapPutTTLOffset, protocol.BigEndian); err != nil {
		return req, err
	}
	it := skipInitial(m)
	if req.Name, err = protocol.DecodeString(it); err != nil {
		return req, err
	}
	if req.Key, err = protocol.DecodeBytes(it); err != nil {
		return req, err
	}
	req.Value, err = protocol.DecodeBytes(it)
	return req, err
}

// EncodeMapPutResponse carries the previous value, nil if there was none
func EncodeMapPutResponse(correlationID int64, old []byte) *protocol.Message {
	return encodeValueResponse(MsgTMapPutResponse, correlationID, old)
}

func DecodeMapPutResponse(m *protocol.Message) ([]byte, error) {
	return decodeValueResponse(m, MsgTMapPutResponse)
}

// --------------------------------------------------------------------------
// Map.Get
// --------------------------------------------------------------------------

func EncodeMapGetRequest(partitionID int32, name string, key []byte) *protocol.Message {
	return encodeKeyRequest(MsgTMapGet, partitionID, name, key, true)
}

func DecodeMapGetRequest(m *protocol.Message) (MapKeyRequest, error) {
	return decodeKeyRequest(m)
}

func EncodeMapGetResponse(correlationID int64, value []byte) *protocol.Message {
	return encodeValueResponse(MsgTMapGetResponse, correlationID, value)
}

// DecodeMapGetResponse returns the value, nil if the key is missing
func DecodeMapGetResponse(m *protocol.Message) ([]byte, error) {
	return decodeValueResponse(m, MsgTMapGetResponse)
}

// --------------------------------------------------------------------------
// Map.Remove
// --------------------------------------------------------------------------

func EncodeMapRemoveRequest(partitionID int32, name string, key []byte) *protocol.Message {
	return encodeKeyRequest(MsgTMapRemove, partitionID, name, key, false)
}

func DecodeMapRemoveRequest(m *protocol.Message) (MapKeyRequest, error) {
	return decodeKeyRequest(m)
}

func EncodeMapRemoveResponse(correlationID int64, old []byte) *protocol.Message {
	return encodeValueResponse(MsgTMapRemoveResponse, correlationID, old)
}

func DecodeMapRemoveResponse(m *protocol.Message) ([]byte, error) {
	return decodeValueResponse(m, MsgTMapRemoveResponse)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func encodeKeyRequest(t MessageType, partitionID int32, name string, key []byte, retryable bool) *protocol.Message {
	m := protocol.NewRequest(int32(t), partitionID, 0)
	m.Retryable = retryable
	m.OperationName = t.String()
	protocol.EncodeString(m, name)
	protocol.EncodeBytes(m, key)
	return m
}

func decodeKeyRequest(m *protocol.Message) (MapKeyRequest, error) {
	var req MapKeyRequest
	it := skipInitial(m)
	var err error
	if req.Name, err = protocol.DecodeString(it); err != nil {
		return req, err
	}
	req.Key, err = protocol.DecodeBytes(it)
	return req, err
}

func encodeValueResponse(t MessageType, correlationID int64, value []byte) *protocol.Message {
	m := EncodeEmptyResponse(t, correlationID)
	encodeNullableBytes(m, value)
	return m
}

func decodeValueResponse(m *protocol.Message, want MessageType) ([]byte, error) {
	if err := CheckResponse(m, want); err != nil {
		return nil, err
	}
	return decodeNullableBytes(skipInitial(m))
}
