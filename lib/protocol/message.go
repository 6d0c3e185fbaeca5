package protocol

import (
	"fmt"
)

// Message is an ordered chain of frames. The first frame is the initial frame
// and carries the fixed header (see package doc). A message exclusively owns
// its frames.
//
// Retryable and OperationName are local attributes, they are never sent.
type Message struct {
	first *Frame
	last  *Frame
	count int

	// Retryable marks requests that may be resent with a fresh correlation id
	Retryable bool
	// OperationName is used in log output only
	OperationName string
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// NewMessage creates a message starting with the given initial frame.
// A nil initial frame creates an empty message.
// It panics if the initial frame already belongs to another message.
func NewMessage(initial *Frame) *Message {
	m := &Message{}
	if initial != nil {
		if err := m.Append(initial); err != nil {
			panic(err)
		}
	}
	return m
}

func newHeaderMessage(flags Flags, headerSize, fixedSize int) *Message {
	if fixedSize < 0 {
		fixedSize = 0
	}
	return NewMessage(NewFrame(make([]byte, headerSize+fixedSize), flags))
}

// NewRequest creates an unfragmented request with room for fixedSize bytes of
// operation specific fields after RequestHeaderSize. The correlation id is
// assigned by the invoker.
func NewRequest(messageType, partitionID int32, fixedSize int) *Message {
	m := newHeaderMessage(FlagUnfragmented, RequestHeaderSize, fixedSize)
	m.SetMessageType(messageType)
	m.SetPartitionID(partitionID)
	return m
}

// NewResponse creates an unfragmented response for the request with the given
// correlation id. Fixed fields start at ResponseHeaderSize.
func NewResponse(messageType int32, correlationID int64, fixedSize int) *Message {
	m := newHeaderMessage(FlagUnfragmented, ResponseHeaderSize, fixedSize)
	m.SetMessageType(messageType)
	m.SetPartitionID(-1)
	m.SetCorrelationID(correlationID)
	return m
}

// NewEvent creates an unfragmented push event. Fixed fields start at
// EventHeaderSize.
func NewEvent(messageType, partitionID int32, fixedSize int) *Message {
	m := newHeaderMessage(FlagUnfragmented|FlagIsEvent, EventHeaderSize, fixedSize)
	m.SetMessageType(messageType)
	m.SetPartitionID(partitionID)
	return m
}

// --------------------------------------------------------------------------
// Frame Chain
// --------------------------------------------------------------------------

// Append links f at the end of the message.
// It returns ErrFrameOwned if f already belongs to a message.
func (m *Message) Append(f *Frame) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if f.owned {
		return ErrFrameOwned
	}
	m.link(f)
	return nil
}

// link appends a frame that is known to be fresh
func (m *Message) link(f *Frame) {
	f.owned = true
	f.next = nil
	if m.last == nil {
		m.first = f
	} else {
		m.last.next = f
	}
	m.last = f
	m.count++
}

// Iterator returns a cursor positioned on the initial frame
func (m *Message) Iterator() *Iterator {
	return &Iterator{cur: m.first}
}

// FrameCount returns the number of frames including the initial frame
func (m *Message) FrameCount() int { return m.count }

// WireSize returns the number of bytes WriteMessage will write
func (m *Message) WireSize() int {
	n := 0
	for f := m.first; f != nil; f = f.next {
		n += f.WireSize()
	}
	return n
}

// Finalize sets FlagIsFinal on the last frame and clears it everywhere else
func (m *Message) Finalize() {
	for f := m.first; f != nil; f = f.next {
		if f == m.last {
			f.flags |= FlagIsFinal
		} else {
			f.flags &^= FlagIsFinal
		}
	}
}

// --------------------------------------------------------------------------
// Header Accessors
// --------------------------------------------------------------------------

// InitialPayload returns the payload of the initial frame, codecs write their
// fixed fields into it. Returns nil for an empty message.
func (m *Message) InitialPayload() []byte {
	if m.first == nil {
		return nil
	}
	return m.first.payload
}

// header returns the initial payload and panics if it can not hold the header.
// Setters call it, writing a header into a header-less message is a bug.
func (m *Message) header() []byte {
	p := m.InitialPayload()
	if len(p) < RequestHeaderSize {
		panic(fmt.Sprintf("protocol: message has no header (initial payload of %d bytes)", len(p)))
	}
	return p
}

func (m *Message) MessageType() int32 {
	v, _ := Int32(m.InitialPayload(), TypeOffset, DefaultEndianness)
	return v
}

func (m *Message) SetMessageType(t int32) {
	_ = PutInt32(m.header(), TypeOffset, t, DefaultEndianness)
}

// PartitionID returns the partition id, -1 means the message is not bound to
// a partition
func (m *Message) PartitionID() int32 {
	v, err := Int32(m.InitialPayload(), PartitionIDOffset, DefaultEndianness)
	if err != nil {
		return -1
	}
	return v
}

func (m *Message) SetPartitionID(id int32) {
	_ = PutInt32(m.header(), PartitionIDOffset, id, DefaultEndianness)
}

func (m *Message) CorrelationID() int64 {
	v, _ := Int64(m.InitialPayload(), CorrelationIDOffset, DefaultEndianness)
	return v
}

func (m *Message) SetCorrelationID(id int64) {
	_ = PutInt64(m.header(), CorrelationIDOffset, id, DefaultEndianness)
}

// BackupAcks returns the backup ack count of a response
func (m *Message) BackupAcks() uint8 {
	v, _ := Uint8(m.InitialPayload(), ResponseBackupAcksOffset)
	return v
}

// SetBackupAcks sets the backup ack count of a response.
// It returns ErrOutOfRange for messages without the response header.
func (m *Message) SetBackupAcks(n uint8) error {
	return PutUint8(m.InitialPayload(), ResponseBackupAcksOffset, n)
}

// Flags returns the flags of the initial frame
func (m *Message) Flags() Flags {
	if m.first == nil {
		return FlagDefault
	}
	return m.first.flags
}

// SetFlags replaces the flags of the initial frame
func (m *Message) SetFlags(flags Flags) {
	if m.first == nil {
		panic("protocol: SetFlags on an empty message")
	}
	m.first.flags = flags
}

// AddFlags sets additional flags on the initial frame
func (m *Message) AddFlags(flags Flags) {
	m.SetFlags(m.Flags() | flags)
}

func (m *Message) IsEvent() bool { return m.Flags().Has(FlagIsEvent) }

// IsFragment reports whether the message is one fragment of a larger message
func (m *Message) IsFragment() bool {
	return m.first != nil && !m.first.flags.Has(FlagUnfragmented)
}

// ValidateHeader checks that the initial frame is large enough for its kind
func (m *Message) ValidateHeader() error {
	if m.first == nil {
		return fmt.Errorf("%w: message has no frames", ErrMalformedFrame)
	}
	need := RequestHeaderSize
	if m.IsFragment() {
		need = fragmentIDSize
	}
	if n := len(m.first.payload); n < need {
		return fmt.Errorf("%w: initial frame has %d bytes, need %d", ErrMalformedFrame, n, need)
	}
	return nil
}

// --------------------------------------------------------------------------
// Copies
// --------------------------------------------------------------------------

// CopyWithNewCorrelationID returns a copy that carries a new correlation id.
// The initial payload is copied, all other payloads are shared. Used to resend
// a retryable request.
func (m *Message) CopyWithNewCorrelationID(id int64) *Message {
	c := &Message{Retryable: m.Retryable, OperationName: m.OperationName}
	for f := m.first; f != nil; f = f.next {
		nf := f.clone(f.flags)
		if f == m.first {
			nf.payload = append([]byte(nil), f.payload...)
		}
		c.link(nf)
	}
	c.SetCorrelationID(id)
	return c
}

func (m *Message) String() string {
	name := m.OperationName
	if name == "" {
		name = fmt.Sprintf("type=%d", m.MessageType())
	}
	return fmt.Sprintf("Message{%s, correlation=%d, partition=%d, frames=%d, flags=%s}",
		name, m.CorrelationID(), m.PartitionID(), m.count, m.Flags())
}
