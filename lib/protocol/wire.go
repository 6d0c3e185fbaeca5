package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// FrameHeaderSize is the int32 length plus the uint16 flags
	FrameHeaderSize = 6
	// DefaultMaxFrameSize is the largest frame a Reader accepts by default
	DefaultMaxFrameSize = 16 << 20
)

// Preface is sent once by a client right after the connection was opened
var Preface = []byte("CP2")

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// WriteMessage writes all frames of msg to w. The last frame is written with
// FlagIsFinal, all others without it, regardless of the flags in memory.
// The frames are handed to w as one net.Buffers batch.
func WriteMessage(w io.Writer, msg *Message) (int64, error) {
	if msg.count == 0 {
		return 0, fmt.Errorf("%w: message has no frames", ErrMalformedFrame)
	}
	headers := make([]byte, msg.count*FrameHeaderSize)
	bufs := make(net.Buffers, 0, msg.count*2)
	i := 0
	for f := msg.first; f != nil; f = f.next {
		h := headers[i*FrameHeaderSize : (i+1)*FrameHeaderSize]
		putFrameHeader(h, f, f == msg.last)
		bufs = append(bufs, h)
		if len(f.payload) > 0 {
			bufs = append(bufs, f.payload)
		}
		i++
	}
	return bufs.WriteTo(w)
}

// AppendMessage appends the wire encoding of msg to dst
func AppendMessage(dst []byte, msg *Message) []byte {
	var h [FrameHeaderSize]byte
	for f := msg.first; f != nil; f = f.next {
		putFrameHeader(h[:], f, f == msg.last)
		dst = append(dst, h[:]...)
		dst = append(dst, f.payload...)
	}
	return dst
}

func putFrameHeader(h []byte, f *Frame, final bool) {
	flags := f.flags &^ FlagIsFinal
	if final {
		flags |= FlagIsFinal
	}
	binary.BigEndian.PutUint32(h[0:4], uint32(FrameHeaderSize+len(f.payload)))
	binary.BigEndian.PutUint16(h[4:6], uint16(flags))
}

// WritePreface sends the connection preface
func WritePreface(w io.Writer) error {
	_, err := w.Write(Preface)
	return err
}

// ReadPreface reads and checks the connection preface
func ReadPreface(r io.Reader) error {
	buf := make([]byte, len(Preface))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("failed to read preface: %w", err)
	}
	if !bytes.Equal(buf, Preface) {
		return fmt.Errorf("%w: unexpected preface %q", ErrCorruptStream, buf)
	}
	return nil
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Reader decodes frames and messages from a byte stream
type Reader struct {
	r            *bufio.Reader
	maxFrameSize int
	hdr          [FrameHeaderSize]byte
}

// NewReader creates a reader. A maxFrameSize <= 0 uses DefaultMaxFrameSize.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br, maxFrameSize: maxFrameSize}
}

// ReadFrame reads one frame.
//
// A frame longer than the maximum is skipped and reported as ErrMalformedFrame
// together with its flags, so the caller can resynchronize on the message
// boundary. A length shorter than the frame header can not be skipped and
// returns ErrCorruptStream. A clean end of stream before the first header byte
// returns io.EOF.
func (r *Reader) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return nil, err
	}
	length := int32(binary.BigEndian.Uint32(r.hdr[0:4]))
	flags := Flags(binary.BigEndian.Uint16(r.hdr[4:6]))

	if length < FrameHeaderSize {
		return nil, fmt.Errorf("%w: frame length %d is shorter than the header", ErrCorruptStream, length)
	}
	size := int(length) - FrameHeaderSize
	if int(length) > r.maxFrameSize {
		if _, err := r.r.Discard(size); err != nil {
			return nil, fmt.Errorf("failed to skip oversized frame: %w", unexpectedEOF(err))
		}
		return &Frame{flags: flags}, fmt.Errorf("%w: frame length %d exceeds %d", ErrMalformedFrame, length, r.maxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", unexpectedEOF(err))
	}
	return &Frame{flags: flags, payload: payload}, nil
}

// unexpectedEOF turns io.EOF into io.ErrUnexpectedEOF, used once a frame has
// been started
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadMessage reads frames until one carries FlagIsFinal.
//
// If one of the frames is malformed the remaining frames of the message are
// still consumed and ErrMalformedFrame is returned, the stream stays usable.
// Any other error leaves the stream in an undefined state.
func (r *Reader) ReadMessage() (*Message, error) {
	msg := &Message{}
	var malformed error
	for {
		f, err := r.ReadFrame()
		switch {
		case err == nil:
			if malformed == nil {
				msg.link(f)
			}
		case errors.Is(err, ErrMalformedFrame):
			if malformed == nil {
				malformed = err
			}
		case errors.Is(err, io.EOF) && msg.count == 0 && malformed == nil:
			return nil, io.EOF
		case errors.Is(err, io.EOF):
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
		if f != nil && f.IsFinal() {
			break
		}
	}
	if malformed != nil {
		return nil, malformed
	}
	if err := msg.ValidateHeader(); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeMessage decodes exactly one message from b
func DecodeMessage(b []byte) (*Message, error) {
	src := bytes.NewReader(b)
	r := NewReader(src, len(b)+FrameHeaderSize)
	msg, err := r.ReadMessage()
	if err != nil {
		return nil, err
	}
	if trailing := r.r.Buffered() + src.Len(); trailing > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, trailing)
	}
	return msg, nil
}
