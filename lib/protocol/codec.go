package protocol

import "fmt"

// --------------------------------------------------------------------------
// Variable Size Parameters
// --------------------------------------------------------------------------

// EncodeString appends s as one frame
func EncodeString(m *Message, s string) {
	m.link(NewFrame([]byte(s), FlagDefault))
}

// DecodeString takes one frame and returns its payload as string
func DecodeString(it *Iterator) (string, error) {
	f, err := takeData(it, "string")
	if err != nil {
		return "", err
	}
	return string(f.payload), nil
}

// EncodeBytes appends b as one frame. The message keeps a reference to b.
func EncodeBytes(m *Message, b []byte) {
	m.link(NewFrame(b, FlagDefault))
}

// DecodeBytes takes one frame and returns a copy of its payload
func DecodeBytes(it *Iterator) ([]byte, error) {
	f, err := takeData(it, "bytes")
	if err != nil {
		return nil, err
	}
	return append([]byte{}, f.payload...), nil
}

// EncodeNullable appends a null frame for a nil v, otherwise it calls enc
func EncodeNullable[T any](m *Message, v *T, enc func(*Message, T)) {
	if v == nil {
		m.link(NullFrame())
		return
	}
	enc(m, *v)
}

// DecodeNullable returns nil if the next frame is a null frame, otherwise
// it calls dec
func DecodeNullable[T any](it *Iterator, dec func(*Iterator) (T, error)) (*T, error) {
	if it.NextIsNull() {
		return nil, nil
	}
	v, err := dec(it)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// EncodeStringList appends the strings between a begin and an end structure frame
func EncodeStringList(m *Message, list []string) {
	m.link(BeginStructureFrame())
	for _, s := range list {
		EncodeString(m, s)
	}
	m.link(EndStructureFrame())
}

// DecodeStringList reads a list written by EncodeStringList
func DecodeStringList(it *Iterator) ([]string, error) {
	f, err := it.Take()
	if err != nil {
		return nil, fmt.Errorf("%w: missing list", ErrMalformedFrame)
	}
	if !f.IsBeginStructure() {
		return nil, fmt.Errorf("%w: expected begin of list, got %s", ErrMalformedFrame, f.flags)
	}
	list := []string{}
	for !it.NextIsStructEnd() {
		s, err := DecodeString(it)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	_, _ = it.Take()
	return list, nil
}

// takeData takes the next frame and checks that it is a plain data frame
func takeData(it *Iterator, what string) (*Frame, error) {
	f, err := it.Take()
	if err != nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedFrame, what)
	}
	if f.IsNull() || f.IsBeginStructure() || f.IsEndStructure() {
		return nil, fmt.Errorf("%w: expected %s, got %s frame", ErrMalformedFrame, what, f.flags)
	}
	return f, nil
}
