package codec

import (
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// EntryEventType is the kind of change an entry event reports
type EntryEventType int32

const (
	EntryAdded   EntryEventType = 1
	EntryUpdated EntryEventType = 2
	EntryRemoved EntryEventType = 4
	EntryExpired EntryEventType = 8
)

func (t EntryEventType) String() string {
	switch t {
	case EntryAdded:
		return "added"
	case EntryUpdated:
		return "updated"
	case EntryRemoved:
		return "removed"
	case EntryExpired:
		return "expired"
	default:
		return fmt.Sprintf("EntryEventType(%d)", int32(t))
	}
}

// fixed fields
const (
	addListenerIncludeValueOffset = protocol.RequestHeaderSize
	removeListenerResultOffset    = protocol.ResponseHeaderSize
	entryEventTypeOffset          = protocol.EventHeaderSize
)

// AddEntryListenerRequest is the decoded form of Map.AddEntryListener
type AddEntryListenerRequest struct {
	Name         string
	IncludeValue bool
}

// RemoveListenerRequest is the decoded form of Map.RemoveEntryListener
type RemoveListenerRequest struct {
	Name           string
	RegistrationID string
}

// EntryEvent is the decoded form of Map.EntryEvent
type EntryEvent struct {
	Name     string
	Type     EntryEventType
	Key      []byte
	Value    []byte
	OldValue []byte
}

// InvalidationEvent is the decoded form of Map.InvalidationEvent.
// A nil Key invalidates the whole near cache.
type InvalidationEvent struct {
	Name string
	Key  []byte
}

// --------------------------------------------------------------------------
// Map.AddEntryListener
// --------------------------------------------------------------------------

// EncodeAddEntryListenerRequest registers for entry events of a map. Events
// carry the correlation id of this request.
func EncodeAddEntryListenerRequest(name string, includeValue bool) *protocol.Message {
	m := protocol.NewRequest(int32(MsgTAddEntryListener), -1, 1)
	m.Retryable = true
	m.OperationName = MsgTAddEntryListener.String()
	_ = protocol.PutBool(m.InitialPayload(), addListenerIncludeValueOffset, includeValue)
	protocol.EncodeString(m, name)
	return m
}

func DecodeAddEntryListenerRequest(m *protocol.Message) (AddEntryListenerRequest, error) {
	var req AddEntryListenerRequest
	var err error
	if req.IncludeValue, err = protocol.Bool(m.InitialPayload(), addListenerIncludeValueOffset); err != nil {
		return req, err
	}
	req.Name, err = protocol.DecodeString(skipInitial(m))
	return req, err
}

// --------------------------------------------------------------------------
// Map.AddNearCacheInvalidationListener
// --------------------------------------------------------------------------

func EncodeAddNearCacheInvalidationListenerRequest(name string) *protocol.Message {
	m := protocol.NewRequest(int32(MsgTAddNearCacheInvalidationListener), -1, 0)
	m.Retryable = true
	m.OperationName = MsgTAddNearCacheInvalidationListener.String()
	protocol.EncodeString(m, name)
	return m
}

func DecodeAddNearCacheInvalidationListenerRequest(m *protocol.Message) (string, error) {
	return protocol.DecodeString(skipInitial(m))
}

// --------------------------------------------------------------------------
// Registration responses (both listener kinds)
// --------------------------------------------------------------------------

// EncodeRegistrationResponse answers a listener registration with its id
func EncodeRegistrationResponse(t MessageType, correlationID int64, registrationID string) *protocol.Message {
	m := EncodeEmptyResponse(t, correlationID)
	protocol.EncodeString(m, registrationID)
	return m
}

// DecodeRegistrationResponse returns the registration id
func DecodeRegistrationResponse(m *protocol.Message, want MessageType) (string, error) {
	if err := CheckResponse(m, want); err != nil {
		return "", err
	}
	return protocol.DecodeString(skipInitial(m))
}

// --------------------------------------------------------------------------
// Map.RemoveEntryListener
// --------------------------------------------------------------------------

func EncodeRemoveEntryListenerRequest(name, registrationID string) *protocol.Message {
	m := protocol.NewRequest(int32(MsgTRemoveEntryListener), -1, 0)
	m.Retryable = true
	m.OperationName = MsgTRemoveEntryListener.String()
	protocol.EncodeString(m, name)
	protocol.EncodeString(m, registrationID)
	return m
}

func DecodeRemoveEntryListenerRequest(m *protocol.Message) (RemoveListenerRequest, error) {
	var req RemoveListenerRequest
	it := skipInitial(m)
	var err error
	if req.Name, err = protocol.DecodeString(it); err != nil {
		return req, err
	}
	req.RegistrationID, err = protocol.DecodeString(it)
	return req, err
}

func EncodeRemoveEntryListenerResponse(correlationID int64, removed bool) *protocol.Message {
	m := protocol.NewResponse(int32(MsgTRemoveEntryListenerResponse), correlationID, 1)
	m.OperationName = MsgTRemoveEntryListenerResponse.String()
	_ = protocol.PutBool(m.InitialPayload(), removeListenerResultOffset, removed)
	return m
}

func DecodeRemoveEntryListenerResponse(m *protocol.Message) (bool, error) {
	if err := CheckResponse(m, MsgTRemoveEntryListenerResponse); err != nil {
		return false, err
	}
	return protocol.Bool(m.InitialPayload(), removeListenerResultOffset)
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EncodeEntryEvent creates an entry event for the registration with the given
// correlation id
func EncodeEntryEvent(partitionID int32, correlationID int64, ev EntryEvent) *protocol.Message {
	m := protocol.NewEvent(int32(MsgTEntryEvent), partitionID, 4)
	m.SetCorrelationID(correlationID)
	m.OperationName = MsgTEntryEvent.String()
	_ = protocol.PutInt32(m.InitialPayload(), entryEventTypeOffset, int32(ev.Type), protocol.BigEndian)
	protocol.EncodeString(m, ev.Name)
	protocol.EncodeBytes(m, ev.Key)
	encodeNullableBytes(m, ev.Value)
	encodeNullableBytes(m, ev.OldValue)
	return m
}

func DecodeEntryEvent(m *protocol.Message) (EntryEvent, error) {
	var ev EntryEvent
	t, err := protocol.Int32(m.InitialPayload(), entryEventTypeOffset, protocol.BigEndian)
	if err != nil {
		return ev, err
	}
	ev.Type = EntryEventType(t)
	it := skipInitial(m)
	if ev.Name, err = protocol.DecodeString(it); err != nil {
		return ev, err
	}
	if ev.Key, err = protocol.DecodeBytes(it); err != nil {
		return ev, err
	}
	if ev.Value, err = decodeNullableBytes(it); err != nil {
		return ev, err
	}
	ev.OldValue, err = decodeNullableBytes(it)
	return ev, err
}

// EncodeInvalidationEvent creates a near cache invalidation event for the
// registration with the given correlation id
func EncodeInvalidationEvent(partitionID int32, correlationID int64, ev InvalidationEvent) *protocol.Message {
	m := protocol.NewEvent(int32(MsgTInvalidationEvent), partitionID, 0)
	m.SetCorrelationID(correlationID)
	m.OperationName = MsgTInvalidationEvent.String()
	protocol.EncodeString(m, ev.Name)
	encodeNullableBytes(m, ev.Key)
	return m
}

func DecodeInvalidationEvent(m *protocol.Message) (InvalidationEvent, error) {
	var ev InvalidationEvent
	it := skipInitial(m)
	var err error
	if ev.Name, err = protocol.DecodeString(it); err != nil {
		return ev, err
	}
	ev.Key, err = decodeNullableBytes(it)
	return ev, err
}

func encodeNullableBytes(m *protocol.Message, b []byte) {
	if b == nil {
		protocol.EncodeNullable[[]byte](m, nil, protocol.EncodeBytes)
		return
	}
	protocol.EncodeBytes(m, b)
}

func decodeNullableBytes(it *protocol.Iterator) ([]byte, error) {
	v, err := protocol.DecodeNullable(it, protocol.DecodeBytes)
	if err != nil || v == nil {
		return nil, err
	}
	return *v, nil
}
