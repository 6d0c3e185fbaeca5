package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// roundTrip sends m through the wire encoding
func roundTrip(t *testing.T, m *protocol.Message) *protocol.Message {
	t.Helper()
	d, err := protocol.DecodeMessage(protocol.AppendMessage(nil, m))
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	return d
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		t    MessageType
		want string
	}{
		{MsgTMapPut, "Map.Put"},
		{MsgTEntryEvent, "Map.EntryEvent"},
		{MessageType(0x7F7F00), "Unknown(0x7F7F00)"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if p, err := ParseMessageType("Map.Get"); err != nil || p != MsgTMapGet {
		t.Errorf("ParseMessageType = %v, %v", p, err)
	}
	if _, err := ParseMessageType("nope"); err == nil {
		t.Error("ParseMessageType should fail for unknown names")
	}
	if MsgTMapPut.ResponseType() != MsgTMapPutResponse {
		t.Error("ResponseType of Map.Put is wrong")
	}
	if !MsgTInvalidationEvent.IsEvent() || MsgTMapGet.IsEvent() {
		t.Error("IsEvent is wrong")
	}
}

func TestMapPutCodec(t *testing.T) {
	req := roundTrip(t, EncodeMapPutRequest(12, "m", []byte("k"), []byte("v"), 5000))
	if TypeOf(req) != MsgTMapPut || req.PartitionID() != 12 {
		t.Errorf("header: %s", req)
	}
	p, err := DecodeMapPutRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "m" || string(p.Key) != "k" || string(p.Value) != "v" || p.TTLMillis != 5000 {
		t.Errorf("decoded %+v", p)
	}

	old, err := DecodeMapPutResponse(roundTrip(t, EncodeMapPutResponse(3, nil)))
	if err != nil || old != nil {
		t.Errorf("no previous value: %v, %v", old, err)
	}
	old, err = DecodeMapPutResponse(roundTrip(t, EncodeMapPutResponse(3, []byte("prev"))))
	if err != nil || string(old) != "prev" {
		t.Errorf("previous value: %q, %v", old, err)
	}
}

func TestMapGetRemoveCodec(t *testing.T) {
	get := roundTrip(t, EncodeMapGetRequest(1, "m", []byte{1, 2}))
	g, err := DecodeMapGetRequest(get)
	if err != nil || g.Name != "m" || !bytes.Equal(g.Key, []byte{1, 2}) {
		t.Errorf("get request: %+v, %v", g, err)
	}
	rem := roundTrip(t, EncodeMapRemoveRequest(1, "m", []byte{3}))
	r, err := DecodeMapRemoveRequest(rem)
	if err != nil || !bytes.Equal(r.Key, []byte{3}) {
		t.Errorf("remove request: %+v, %v", r, err)
	}

	v, err := DecodeMapGetResponse(roundTrip(t, EncodeMapGetResponse(1, []byte{})))
	if err != nil || v == nil || len(v) != 0 {
		t.Errorf("empty value should stay non-nil: %v, %v", v, err)
	}

	// wrong response type
	_, err = DecodeMapRemoveResponse(EncodeMapGetResponse(1, nil))
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestErrorResponse(t *testing.T) {
	m := roundTrip(t, EncodeErrorResponse(9, ErrCodeIllegalArgument, "bad key"))
	if m.CorrelationID() != 9 {
		t.Errorf("correlation id = %d", m.CorrelationID())
	}
	_, err := DecodeMapGetResponse(m)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != ErrCodeIllegalArgument || remote.Message != "bad key" {
		t.Errorf("decoded %+v", remote)
	}
	if remote.Code.Retryable() || !ErrCodeTargetNotMember.Retryable() {
		t.Error("Retryable is wrong")
	}
}

func TestListenerCodecs(t *testing.T) {
	add := roundTrip(t, EncodeAddEntryListenerRequest("m", true))
	a, err := DecodeAddEntryListenerRequest(add)
	if err != nil || a.Name != "m" || !a.IncludeValue {
		t.Errorf("add listener: %+v, %v", a, err)
	}

	reg, err := DecodeRegistrationResponse(
		roundTrip(t, EncodeRegistrationResponse(MsgTAddEntryListenerResponse, 4, "reg-1")),
		MsgTAddEntryListenerResponse)
	if err != nil || reg != "reg-1" {
		t.Errorf("registration: %q, %v", reg, err)
	}

	nc := roundTrip(t, EncodeAddNearCacheInvalidationListenerRequest("m"))
	if name, err := DecodeAddNearCacheInvalidationListenerRequest(nc); err != nil || name != "m" {
		t.Errorf("near cache listener: %q, %v", name, err)
	}

	rm := roundTrip(t, EncodeRemoveEntryListenerRequest("m", "reg-1"))
	r, err := DecodeRemoveEntryListenerRequest(rm)
	if err != nil || r.RegistrationID != "reg-1" {
		t.Errorf("remove listener: %+v, %v", r, err)
	}
	ok, err := DecodeRemoveEntryListenerResponse(roundTrip(t, EncodeRemoveEntryListenerResponse(5, true)))
	if err != nil || !ok {
		t.Errorf("remove listener response: %v, %v", ok, err)
	}
}

func TestEventCodecs(t *testing.T) {
	in := EntryEvent{Name: "m", Type: EntryUpdated, Key: []byte("k"), Value: []byte("new"), OldValue: nil}
	m := roundTrip(t, EncodeEntryEvent(7, 42, in))
	if !m.IsEvent() || m.CorrelationID() != 42 || m.PartitionID() != 7 {
		t.Errorf("event header: %s", m)
	}
	out, err := DecodeEntryEvent(m)
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != EntryUpdated || string(out.Key) != "k" || string(out.Value) != "new" || out.OldValue != nil {
		t.Errorf("decoded %+v", out)
	}

	inv, err := DecodeInvalidationEvent(roundTrip(t, EncodeInvalidationEvent(-1, 1, InvalidationEvent{Name: "m"})))
	if err != nil || inv.Name != "m" || inv.Key != nil {
		t.Errorf("clear-all invalidation: %+v, %v", inv, err)
	}
	inv, err = DecodeInvalidationEvent(roundTrip(t, EncodeInvalidationEvent(2, 1, InvalidationEvent{Name: "m", Key: []byte("k")})))
	if err != nil || string(inv.Key) != "k" {
		t.Errorf("key invalidation: %+v, %v", inv, err)
	}
}

func TestCreateProxyAndPing(t *testing.T) {
	p, err := DecodeCreateProxyRequest(roundTrip(t, EncodeCreateProxyRequest("m", "map")))
	if err != nil || p.Name != "m" || p.ServiceName != "map" {
		t.Errorf("create proxy: %+v, %v", p, err)
	}
	ping := EncodeClientPingRequest()
	if ping.PartitionID() != -1 || !ping.Retryable {
		t.Errorf("ping: %s", ping)
	}
	if err := CheckResponse(EncodeClientPingResponse(1), MsgTClientPingResponse); err != nil {
		t.Errorf("CheckResponse: %v", err)
	}
}
