package protocol

import "fmt"

// Iterator is a forward cursor over the frames of a message. It starts on the
// initial frame. Codecs consume frames with Take and look ahead with Current
// and Next.
type Iterator struct {
	cur *Frame
}

// HasNext reports whether Take would return a frame
func (it *Iterator) HasNext() bool { return it.cur != nil }

// Current returns the frame Take would return without consuming it
func (it *Iterator) Current() *Frame { return it.cur }

// Next returns the frame after Current without consuming anything
func (it *Iterator) Next() *Frame {
	if it.cur == nil {
		return nil
	}
	return it.cur.next
}

// Take consumes and returns the current frame
func (it *Iterator) Take() (*Frame, error) {
	if it.cur == nil {
		return nil, ErrNoMoreFrames
	}
	f := it.cur
	it.cur = f.next
	return f, nil
}

// NextIsNull reports whether the current frame is a null frame and consumes
// it if so
func (it *Iterator) NextIsNull() bool {
	if it.cur != nil && it.cur.IsNull() {
		it.cur = it.cur.next
		return true
	}
	return false
}

// NextIsStructEnd reports whether the current frame closes a structure
// without consuming it
func (it *Iterator) NextIsStructEnd() bool {
	return it.cur != nil && it.cur.IsEndStructure()
}

// SkipToStructEnd consumes frames up to and including the end frame of the
// structure the cursor is in. Nested structures are skipped as a whole.
func (it *Iterator) SkipToStructEnd() error {
	depth := 1
	for depth > 0 {
		f, err := it.Take()
		if err != nil {
			return fmt.Errorf("%w: structure is not terminated", ErrMalformedFrame)
		}
		switch {
		case f.IsEndStructure():
			depth--
		case f.IsBeginStructure():
			depth++
		}
	}
	return nil
}
