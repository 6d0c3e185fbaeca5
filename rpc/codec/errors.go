package codec

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/protocol"
)

// ErrorCode classifies a RemoteError
type ErrorCode int32

const (
	ErrCodeUndefined ErrorCode = iota
	ErrCodeUnknownOperation
	ErrCodeIllegalArgument
	ErrCodeMalformedRequest
	ErrCodeTargetNotMember
	ErrCodeShuttingDown
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknownOperation:
		return "UnknownOperation"
	case ErrCodeIllegalArgument:
		return "IllegalArgument"
	case ErrCodeMalformedRequest:
		return "MalformedRequest"
	case ErrCodeTargetNotMember:
		return "TargetNotMember"
	case ErrCodeShuttingDown:
		return "ShuttingDown"
	default:
		return "Undefined"
	}
}

// Retryable reports whether a request failing with c may be resent
func (c ErrorCode) Retryable() bool {
	return c == ErrCodeTargetNotMember || c == ErrCodeShuttingDown
}

// ErrUnexpectedResponse is returned when a response has the wrong type
var ErrUnexpectedResponse = errors.New("unexpected response type")

// RemoteError is an error reported by a member
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// fixed fields of the error response
const errorCodeOffset = protocol.ResponseHeaderSize

// EncodeErrorResponse creates the error response for the request with the
// given correlation id
func EncodeErrorResponse(correlationID int64, code ErrorCode, message string) *protocol.Message {
	m := protocol.NewResponse(int32(MsgTError), correlationID, 4)
	_ = protocol.PutInt32(m.InitialPayload(), errorCodeOffset, int32(code), protocol.BigEndian)
	protocol.EncodeString(m, message)
	m.OperationName = MsgTError.String()
	return m
}

// DecodeErrorResponse reads an error response
func DecodeErrorResponse(m *protocol.Message) (*RemoteError, error) {
	code, err := protocol.Int32(m.InitialPayload(), errorCodeOffset, protocol.BigEndian)
	if err != nil {
		return nil, err
	}
	it := m.Iterator()
	_, _ = it.Take()
	msg, err := protocol.DecodeString(it)
	if err != nil {
		return nil, err
	}
	return &RemoteError{Code: ErrorCode(code), Message: msg}, nil
}

// CheckResponse returns the RemoteError carried by an error response, or
// ErrUnexpectedResponse if m is not of type want
func CheckResponse(m *protocol.Message, want MessageType) error {
	got := TypeOf(m)
	if got == MsgTError {
		remote, err := DecodeErrorResponse(m)
		if err != nil {
			return fmt.Errorf("failed to decode error response: %w", err)
		}
		return remote
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, got, want)
	}
	return nil
}
