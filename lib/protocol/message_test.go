package protocol

import (
	"errors"
	"testing"
)

// TestRequestHeader checks the header accessors of a request
func TestRequestHeader(t *testing.T) {
	m := NewRequest(0x0102, 7, 8)
	m.SetCorrelationID(1 << 40)

	if m.MessageType() != 0x0102 {
		t.Errorf("MessageType = %x", m.MessageType())
	}
	if m.PartitionID() != 7 {
		t.Errorf("PartitionID = %d", m.PartitionID())
	}
	if m.CorrelationID() != 1<<40 {
		t.Errorf("CorrelationID = %d", m.CorrelationID())
	}
	if len(m.InitialPayload()) != RequestHeaderSize+8 {
		t.Errorf("initial payload has %d bytes", len(m.InitialPayload()))
	}
	if m.IsEvent() || m.IsFragment() {
		t.Errorf("request has flags %s", m.Flags())
	}
	if err := m.ValidateHeader(); err != nil {
		t.Errorf("ValidateHeader: %v", err)
	}

	// fixed fields after the header
	if err := PutInt64(m.InitialPayload(), RequestHeaderSize, 42, BigEndian); err != nil {
		t.Fatal(err)
	}
	if v, _ := Int64(m.InitialPayload(), RequestHeaderSize, BigEndian); v != 42 {
		t.Errorf("fixed field = %d", v)
	}
	if m.CorrelationID() != 1<<40 {
		t.Error("fixed field overwrote the header")
	}
}

// TestResponseAndEvent checks the response and event constructors
func TestResponseAndEvent(t *testing.T) {
	resp := NewResponse(9, 1234, 0)
	if resp.CorrelationID() != 1234 || resp.PartitionID() != -1 {
		t.Errorf("unexpected response header: %s", resp)
	}
	if err := resp.SetBackupAcks(2); err != nil {
		t.Fatal(err)
	}
	if resp.BackupAcks() != 2 {
		t.Errorf("BackupAcks = %d", resp.BackupAcks())
	}
	if len(resp.InitialPayload()) != ResponseHeaderSize {
		t.Errorf("response payload has %d bytes", len(resp.InitialPayload()))
	}

	ev := NewEvent(11, 3, 4)
	if !ev.IsEvent() || !ev.Flags().Has(FlagUnfragmented) {
		t.Errorf("event flags = %s", ev.Flags())
	}
	if ev.PartitionID() != 3 || ev.MessageType() != 11 {
		t.Errorf("unexpected event header: %s", ev)
	}
}

// TestAppendOwnership checks that a frame can belong to one message only
func TestAppendOwnership(t *testing.T) {
	a := NewRequest(1, -1, 0)
	b := NewRequest(2, -1, 0)
	f := NewFrame([]byte("x"), FlagDefault)

	if err := a.Append(f); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := b.Append(f); !errors.Is(err, ErrFrameOwned) {
		t.Errorf("second append: expected ErrFrameOwned, got %v", err)
	}
	if err := a.Append(f); !errors.Is(err, ErrFrameOwned) {
		t.Errorf("re-append: expected ErrFrameOwned, got %v", err)
	}
	if a.FrameCount() != 2 || b.FrameCount() != 1 {
		t.Errorf("frame counts %d/%d", a.FrameCount(), b.FrameCount())
	}
	if err := a.Append(nil); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("nil append: expected ErrMalformedFrame, got %v", err)
	}
}

// TestIterator walks a message with peeks and takes
func TestIterator(t *testing.T) {
	m := NewRequest(1, 0, 0)
	EncodeString(m, "a")
	_ = m.Append(NullFrame())
	EncodeString(m, "b")

	it := m.Iterator()
	if it.Current() != m.first {
		t.Fatal("iterator should start on the initial frame")
	}
	if string(it.Next().Payload()) != "a" {
		t.Errorf("Next peek = %q", it.Next().Payload())
	}
	if _, err := it.Take(); err != nil {
		t.Fatal(err)
	}
	if it.NextIsNull() {
		t.Error("NextIsNull on a data frame")
	}
	if s, err := DecodeString(it); err != nil || s != "a" {
		t.Errorf("DecodeString = %q, %v", s, err)
	}
	if !it.NextIsNull() {
		t.Error("NextIsNull should consume the null frame")
	}
	if s, _ := DecodeString(it); s != "b" {
		t.Errorf("DecodeString = %q", s)
	}
	if it.HasNext() {
		t.Error("iterator should be exhausted")
	}
	if _, err := it.Take(); !errors.Is(err, ErrNoMoreFrames) {
		t.Errorf("expected ErrNoMoreFrames, got %v", err)
	}
	if it.Next() != nil || it.Current() != nil {
		t.Error("peeks on an exhausted iterator should return nil")
	}
}

// TestSkipToStructEnd skips nested structures
func TestSkipToStructEnd(t *testing.T) {
	m := NewRequest(1, 0, 0)
	_ = m.Append(BeginStructureFrame())
	EncodeString(m, "skipped")
	EncodeStringList(m, []string{"x", "y"})
	_ = m.Append(EndStructureFrame())
	EncodeString(m, "after")

	it := m.Iterator()
	_, _ = it.Take() // initial
	_, _ = it.Take() // begin
	if err := it.SkipToStructEnd(); err != nil {
		t.Fatalf("SkipToStructEnd: %v", err)
	}
	if s, err := DecodeString(it); err != nil || s != "after" {
		t.Errorf("after skip got %q, %v", s, err)
	}

	it = m.Iterator()
	_, _ = it.Take()
	_, _ = it.Take()
	_, _ = it.Take()
	_, _ = it.Take() // inner begin
	_, _ = it.Take()
	_, _ = it.Take()
	_, _ = it.Take() // inner end
	_, _ = it.Take() // outer end
	if err := it.SkipToStructEnd(); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("unterminated skip: expected ErrMalformedFrame, got %v", err)
	}
}

// TestCopyWithNewCorrelationID checks that the copy is independent
func TestCopyWithNewCorrelationID(t *testing.T) {
	m := NewRequest(5, 2, 0)
	m.SetCorrelationID(1)
	m.Retryable = true
	m.OperationName = "Test.op"
	EncodeString(m, "payload")

	c := m.CopyWithNewCorrelationID(2)
	if c.CorrelationID() != 2 || m.CorrelationID() != 1 {
		t.Errorf("correlation ids %d/%d", c.CorrelationID(), m.CorrelationID())
	}
	if c.MessageType() != 5 || c.PartitionID() != 2 {
		t.Errorf("copy header: %s", c)
	}
	if !c.Retryable || c.OperationName != "Test.op" || c.FrameCount() != 2 {
		t.Errorf("copy attributes: %+v", c)
	}
	it := c.Iterator()
	_, _ = it.Take()
	if s, _ := DecodeString(it); s != "payload" {
		t.Errorf("copied param = %q", s)
	}
}

// TestFinalizeAndWireSize checks Finalize and WireSize
func TestFinalizeAndWireSize(t *testing.T) {
	m := NewRequest(1, 0, 0)
	EncodeString(m, "abc")
	m.first.flags |= FlagIsFinal
	m.Finalize()

	if m.first.IsFinal() || !m.last.IsFinal() {
		t.Error("only the last frame should be final")
	}
	if want := 2*FrameHeaderSize + RequestHeaderSize + 3; m.WireSize() != want {
		t.Errorf("WireSize = %d, want %d", m.WireSize(), want)
	}
}

// TestHeaderlessMessage checks the behaviour of messages without a header
func TestHeaderlessMessage(t *testing.T) {
	m := NewMessage(NewFrame([]byte{1, 2}, FlagUnfragmented))
	if err := m.ValidateHeader(); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
	if m.MessageType() != 0 || m.CorrelationID() != 0 || m.PartitionID() != -1 {
		t.Error("getters on a short header should return zero values")
	}

	defer func() {
		if recover() == nil {
			t.Error("SetCorrelationID on a header-less message should panic")
		}
	}()
	m.SetCorrelationID(1)
}

// TestFlagsString checks the flag names
func TestFlagsString(t *testing.T) {
	tests := []struct {
		flags Flags
		want  string
	}{
		{FlagDefault, "Default"},
		{FlagUnfragmented, "BeginFragment|EndFragment"},
		{FlagIsNull | FlagIsFinal, "IsFinal|IsNull"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("Flags(%d).String() = %q, want %q", tt.flags, got, tt.want)
		}
	}
}
