package codec

import (
	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// --------------------------------------------------------------------------
// Client.Ping
// --------------------------------------------------------------------------

// EncodeClientPingRequest creates a ping, it is not bound to a partition
func EncodeClientPingRequest() *protocol.Message {
	m := protocol.NewRequest(int32(MsgTClientPing), -1, 0)
	m.Retryable = true
	m.OperationName = MsgTClientPing.String()
	return m
}

// EncodeClientPingResponse creates the answer to a ping
func EncodeClientPingResponse(correlationID int64) *protocol.Message {
	return EncodeEmptyResponse(MsgTClientPingResponse, correlationID)
}

// --------------------------------------------------------------------------
// Client.CreateProxy
// --------------------------------------------------------------------------

// CreateProxyRequest asks a member to create the distributed object name
type CreateProxyRequest struct {
	Name        string
	ServiceName string
}

func EncodeCreateProxyRequest(name, serviceName string) *protocol.Message {
	m := protocol.NewRequest(int32(MsgTCreateProxy), -1, 0)
	m.Retryable = true
	m.OperationName = MsgTCreateProxy.String()
	protocol.EncodeString(m, name)
	protocol.EncodeString(m, serviceName)
	return m
}

func DecodeCreateProxyRequest(m *protocol.Message) (CreateProxyRequest, error) {
	var req CreateProxyRequest
	it := skipInitial(m)
	var err error
	if req.Name, err = protocol.DecodeString(it); err != nil {
		return req, err
	}
	req.ServiceName, err = protocol.DecodeString(it)
	return req, err
}

func EncodeCreateProxyResponse(correlationID int64) *protocol.Message {
	return EncodeEmptyResponse(MsgTCreateProxyResponse, correlationID)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// EncodeEmptyResponse creates a response without parameters
func EncodeEmptyResponse(t MessageType, correlationID int64) *protocol.Message {
	m := protocol.NewResponse(int32(t), correlationID, 0)
	m.OperationName = t.String()
	return m
}

// skipInitial returns an iterator positioned after the initial frame
func skipInitial(m *protocol.Message) *protocol.Iterator {
	it := m.Iterator()
	_, _ = it.Take()
	return it
}
