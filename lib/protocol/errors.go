package protocol

import (
	"errors"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("protocol")

var (
	// ErrOutOfRange is returned when an offset or length points outside a payload
	ErrOutOfRange = errors.New("offset out of range")
	// ErrMalformedFrame is returned when a frame or message is not well formed
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrCorruptStream is returned when the frame stream can not be resynchronized
	ErrCorruptStream = errors.New("corrupt frame stream")
	// ErrFrameOwned is returned when a frame already belongs to a message
	ErrFrameOwned = errors.New("frame already belongs to a message")
	// ErrNoMoreFrames is returned by Iterator.Take when the message is exhausted
	ErrNoMoreFrames = errors.New("no more frames")
	// ErrUnknownFragment is returned for a fragment whose BeginFragment was never seen
	ErrUnknownFragment = errors.New("fragment for unknown fragmentation id")
)
