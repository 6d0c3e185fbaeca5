package codec

import "fmt"

// MessageType identifies an operation. Requests end in 0x00, their responses
// in 0x01 and events of the same operation in 0x02 and up.
type MessageType int32

const (
	MsgTUnknown MessageType = 0

	// Client operations

	MsgTClientPing          MessageType = 0x000B00
	MsgTClientPingResponse  MessageType = 0x000B01
	MsgTCreateProxy         MessageType = 0x000400
	MsgTCreateProxyResponse MessageType = 0x000401
	MsgTError               MessageType = 0x0000FF // error response for any request

	// Map operations

	MsgTMapPut                   MessageType = 0x010100
	MsgTMapPutResponse           MessageType = 0x010101
	MsgTMapGet                   MessageType = 0x010200
	MsgTMapGetResponse           MessageType = 0x010201
	MsgTMapRemove                MessageType = 0x010300
	MsgTMapRemoveResponse        MessageType = 0x010301
	MsgTAddEntryListener         MessageType = 0x011900
	MsgTAddEntryListenerResponse MessageType = 0x011901
	MsgTEntryEvent               MessageType = 0x011902

	MsgTRemoveEntryListener         MessageType = 0x011A00
	MsgTRemoveEntryListenerResponse MessageType = 0x011A01

	MsgTAddNearCacheInvalidationListener         MessageType = 0x013F00
	MsgTAddNearCacheInvalidationListenerResponse MessageType = 0x013F01
	MsgTInvalidationEvent                        MessageType = 0x013F02
)

var typeNames = map[MessageType]string{
	MsgTClientPing:                               "Client.Ping",
	MsgTClientPingResponse:                       "Client.PingResponse",
	MsgTCreateProxy:                              "Client.CreateProxy",
	MsgTCreateProxyResponse:                      "Client.CreateProxyResponse",
	MsgTError:                                    "Error",
	MsgTMapPut:                                   "Map.Put",
	MsgTMapPutResponse:                           "Map.PutResponse",
	MsgTMapGet:                                   "Map.Get",
	MsgTMapGetResponse:                           "Map.GetResponse",
	MsgTMapRemove:                                "Map.Remove",
	MsgTMapRemoveResponse:                        "Map.RemoveResponse",
	MsgTAddEntryListener:                         "Map.AddEntryListener",
	MsgTAddEntryListenerResponse:                 "Map.AddEntryListenerResponse",
	MsgTEntryEvent:                               "Map.EntryEvent",
	MsgTRemoveEntryListener:                      "Map.RemoveEntryListener",
	MsgTRemoveEntryListenerResponse:              "Map.RemoveEntryListenerResponse",
	MsgTAddNearCacheInvalidationListener:         "Map.AddNearCacheInvalidationListener",
	MsgTAddNearCacheInvalidationListenerResponse: "Map.AddNearCacheInvalidationListenerResponse",
	MsgTInvalidationEvent:                        "Map.InvalidationEvent",
}

// String returns the operation name, e.g. "Map.Put"
func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%06X)", int32(t))
}

// ParseMessageType is the inverse of MessageType.String
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return MsgTUnknown, fmt.Errorf("unknown message type: %s", s)
}

// IsEvent reports whether t is a push event type
func (t MessageType) IsEvent() bool {
	return t == MsgTEntryEvent || t == MsgTInvalidationEvent
}

// ResponseType returns the response type of a request type
func (t MessageType) ResponseType() MessageType {
	return t | 0x01
}

// TypeOf returns the message type of m
func TypeOf(m interface{ MessageType() int32 }) MessageType {
	return MessageType(m.MessageType())
}
