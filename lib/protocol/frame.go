package protocol

// Frame is one chunk of a message: flags plus a payload.
// A frame belongs to at most one Message, which links it into its chain.
// The payload must not be modified once the message was sent.
type Frame struct {
	flags   Flags
	payload []byte
	next    *Frame
	owned   bool
}

// NewFrame creates a frame. A nil payload is stored as an empty payload.
func NewFrame(payload []byte, flags Flags) *Frame {
	if payload == nil {
		payload = []byte{}
	}
	return &Frame{flags: flags, payload: payload}
}

// NullFrame creates the frame codecs use to encode a missing value
func NullFrame() *Frame {
	return NewFrame(nil, FlagIsNull)
}

// BeginStructureFrame creates the frame that opens a nested structure or list
func BeginStructureFrame() *Frame {
	return NewFrame(nil, FlagBeginDataStructure)
}

// EndStructureFrame creates the frame that closes a nested structure or list
func EndStructureFrame() *Frame {
	return NewFrame(nil, FlagEndDataStructure)
}

func (f *Frame) Flags() Flags { return f.flags }

func (f *Frame) Payload() []byte { return f.payload }

// Len returns the payload length in bytes
func (f *Frame) Len() int { return len(f.payload) }

// WireSize returns the number of bytes the frame occupies on the wire
func (f *Frame) WireSize() int { return FrameHeaderSize + len(f.payload) }

func (f *Frame) Has(flag Flags) bool { return f.flags.Has(flag) }

func (f *Frame) IsNull() bool { return f.flags.Has(FlagIsNull) }

func (f *Frame) IsFinal() bool { return f.flags.Has(FlagIsFinal) }

func (f *Frame) IsBeginStructure() bool { return f.flags.Has(FlagBeginDataStructure) }

func (f *Frame) IsEndStructure() bool { return f.flags.Has(FlagEndDataStructure) }

// clone returns an unowned copy sharing the payload
func (f *Frame) clone(flags Flags) *Frame {
	return &Frame{flags: flags, payload: f.payload}
}
