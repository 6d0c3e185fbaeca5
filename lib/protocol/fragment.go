package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Fragmentation
// --------------------------------------------------------------------------

// Fragment splits msg into fragments of at most maxBytes wire bytes each.
// Splits happen at frame boundaries only, so a single frame larger than
// maxBytes ends up alone in its fragment. Every fragment starts with a header
// frame holding the fragmentation id (the correlation id of msg).
//
// If msg fits into maxBytes (or can not be split) it is returned unchanged as
// the only element. Otherwise the frames are copied into the fragments and msg
// must not be sent anymore.
func Fragment(msg *Message, maxBytes int) []*Message {
	if maxBytes <= 0 || msg.WireSize() <= maxBytes || msg.count < 2 {
		return []*Message{msg}
	}

	id := make([]byte, fragmentIDSize)
	binary.BigEndian.PutUint64(id, uint64(msg.CorrelationID()))
	headerSize := FrameHeaderSize + fragmentIDSize

	var fragments []*Message
	var cur *Message
	size := 0
	for f := msg.first; f != nil; f = f.next {
		if cur != nil && cur.count > 1 && size+f.WireSize() > maxBytes {
			fragments = append(fragments, cur)
			cur = nil
		}
		if cur == nil {
			cur = NewMessage(NewFrame(id, FlagDefault))
			size = headerSize
		}
		cur.link(f.clone(f.flags &^ FlagIsFinal))
		size += f.WireSize()
	}
	fragments = append(fragments, cur)

	if len(fragments) == 1 {
		return []*Message{msg}
	}
	for i, frag := range fragments {
		switch i {
		case 0:
			frag.first.flags = FlagBeginFragment
		case len(fragments) - 1:
			frag.first.flags = FlagEndFragment
		}
		frag.Finalize()
		frag.Retryable = msg.Retryable
		frag.OperationName = msg.OperationName
	}
	Logger.Debugf("split %s into %d fragments", msg, len(fragments))
	return fragments
}

// FragmentID returns the fragmentation id of a fragment
func FragmentID(frag *Message) (int64, error) {
	if err := frag.ValidateHeader(); err != nil {
		return 0, err
	}
	return Int64(frag.first.payload, 0, BigEndian)
}

// --------------------------------------------------------------------------
// Reassembly
// --------------------------------------------------------------------------

// Reassembler buffers fragments by fragmentation id until the EndFragment
// fragment arrived. It is safe for concurrent use, fragments of one id must be
// accepted in order.
type Reassembler struct {
	pending *xsync.MapOf[int64, *Message]
}

func NewReassembler() *Reassembler {
	return &Reassembler{pending: xsync.NewMapOf[int64, *Message]()}
}

// Accept takes one received message. Unfragmented messages are returned as
// they are. For fragments it returns (nil, false, nil) until the last fragment
// of an id arrived and then the reassembled message with done set to true.
func (r *Reassembler) Accept(msg *Message) (*Message, bool, error) {
	if err := msg.ValidateHeader(); err != nil {
		return nil, false, err
	}
	if !msg.IsFragment() {
		return msg, true, nil
	}

	id, err := FragmentID(msg)
	if err != nil {
		return nil, false, err
	}
	flags := msg.first.flags

	if flags.Has(FlagBeginFragment) {
		whole := &Message{Retryable: msg.Retryable, OperationName: msg.OperationName}
		appendFragment(whole, msg)
		if _, loaded := r.pending.LoadOrStore(id, whole); loaded {
			return nil, false, fmt.Errorf("%w: fragmentation id %d started twice", ErrMalformedFrame, id)
		}
		return nil, false, nil
	}

	var unknown bool
	whole, _ := r.pending.Compute(id, func(old *Message, loaded bool) (*Message, bool) {
		if !loaded {
			unknown = true
			return nil, true
		}
		appendFragment(old, msg)
		return old, false
	})
	if unknown {
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownFragment, id)
	}
	if !flags.Has(FlagEndFragment) {
		return nil, false, nil
	}

	r.pending.Delete(id)
	whole.Finalize()
	if err := whole.ValidateHeader(); err != nil {
		return nil, false, err
	}
	return whole, true, nil
}

// Pending returns the number of incomplete messages
func (r *Reassembler) Pending() int {
	return r.pending.Size()
}

// Discard drops the buffered fragments of id
func (r *Reassembler) Discard(id int64) bool {
	_, ok := r.pending.LoadAndDelete(id)
	return ok
}

// appendFragment moves the data frames of frag (everything after the header
// frame) into whole, dropping the per fragment IsFinal markers
func appendFragment(whole, frag *Message) {
	for f := frag.first.next; f != nil; f = f.next {
		whole.link(f.clone(f.flags &^ FlagIsFinal))
	}
}
