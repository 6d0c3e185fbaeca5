package protocol

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Initial Frame Layout
// --------------------------------------------------------------------------

const (
	TypeOffset          = 0
	PartitionIDOffset   = TypeOffset + 4
	CorrelationIDOffset = PartitionIDOffset + 4

	// RequestHeaderSize is where the fixed fields of a request start
	RequestHeaderSize = CorrelationIDOffset + 8
	// EventHeaderSize is where the fixed fields of an event start
	EventHeaderSize = RequestHeaderSize

	ResponseBackupAcksOffset = RequestHeaderSize
	// ResponseHeaderSize is where the fixed fields of a response start
	ResponseHeaderSize = ResponseBackupAcksOffset + 1

	// fragmentIDSize is the payload size of a fragmentation header frame
	fragmentIDSize = 8
)

// --------------------------------------------------------------------------
// Endianness
// --------------------------------------------------------------------------

// Endianness selects the byte order of a fixed size field
type Endianness uint8

const (
	BigEndian Endianness = iota
	LittleEndian
)

// DefaultEndianness is used for the message header
const DefaultEndianness = BigEndian

// ByteOrder returns the matching encoding/binary byte order
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (e Endianness) String() string {
	if e == LittleEndian {
		return "little-endian"
	}
	return "big-endian"
}

// --------------------------------------------------------------------------
// Fixed Size Field Helpers
// --------------------------------------------------------------------------

// checkRange returns ErrOutOfRange unless b[offset:offset+size] is valid
func checkRange(b []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > len(b) {
		return fmt.Errorf("%w: %d bytes at offset %d, payload has %d", ErrOutOfRange, size, offset, len(b))
	}
	return nil
}

func PutUint8(b []byte, offset int, v uint8) error {
	if err := checkRange(b, offset, 1); err != nil {
		return err
	}
	b[offset] = v
	return nil
}

func Uint8(b []byte, offset int) (uint8, error) {
	if err := checkRange(b, offset, 1); err != nil {
		return 0, err
	}
	return b[offset], nil
}

func PutBool(b []byte, offset int, v bool) error {
	var x uint8
	if v {
		x = 1
	}
	return PutUint8(b, offset, x)
}

func Bool(b []byte, offset int) (bool, error) {
	x, err := Uint8(b, offset)
	return x != 0, err
}

func PutInt16(b []byte, offset int, v int16, e Endianness) error {
	if err := checkRange(b, offset, 2); err != nil {
		return err
	}
	e.ByteOrder().PutUint16(b[offset:], uint16(v))
	return nil
}

func Int16(b []byte, offset int, e Endianness) (int16, error) {
	if err := checkRange(b, offset, 2); err != nil {
		return 0, err
	}
	return int16(e.ByteOrder().Uint16(b[offset:])), nil
}

func PutInt32(b []byte, offset int, v int32, e Endianness) error {
	if err := checkRange(b, offset, 4); err != nil {
		return err
	}
	e.ByteOrder().PutUint32(b[offset:], uint32(v))
	return nil
}

func Int32(b []byte, offset int, e Endianness) (int32, error) {
	if err := checkRange(b, offset, 4); err != nil {
		return 0, err
	}
	return int32(e.ByteOrder().Uint32(b[offset:])), nil
}

func PutInt64(b []byte, offset int, v int64, e Endianness) error {
	if err := checkRange(b, offset, 8); err != nil {
		return err
	}
	e.ByteOrder().PutUint64(b[offset:], uint64(v))
	return nil
}

func Int64(b []byte, offset int, e Endianness) (int64, error) {
	if err := checkRange(b, offset, 8); err != nil {
		return 0, err
	}
	return int64(e.ByteOrder().Uint64(b[offset:])), nil
}

// little-endian shorthands

func PutInt16L(b []byte, offset int, v int16) error { return PutInt16(b, offset, v, LittleEndian) }
func Int16L(b []byte, offset int) (int16, error)     { return Int16(b, offset, LittleEndian) }
func PutInt32L(b []byte, offset int, v int32) error { return PutInt32(b, offset, v, LittleEndian) }
func Int32L(b []byte, offset int) (int32, error)     { return Int32(b, offset, LittleEndian) }
func PutInt64L(b []byte, offset int, v int64) error { return PutInt64(b, offset, v, LittleEndian) }
func Int64L(b []byte, offset int) (int64, error)     { return Int64(b, offset, LittleEndian) }
