package canlink

import (
	"errors"
	"fmt"
)

// Result is the coarse synchronous return code of a channel operation.
type Result int8

const (
	StatusOK Result = iota
	InvalidParam
	Timeout
	TransmitBufferOverflow
	SendError
	StateError
)

func (r Result) String() string {
	switch r {
	case StatusOK:
		return "OK"
	case InvalidParam:
		return "InvalidParam"
	case Timeout:
		return "Timeout"
	case TransmitBufferOverflow:
		return "TransmitBufferOverflow"
	case SendError:
		return "SendError"
	case StateError:
		return "StateError"
	default:
		return "Unknown"
	}
}

// OpError is returned by channel operations that fail; it carries both
// the coarse Result (for programmatic dispatch, e.g. on Send/ReadWait)
// and a human-readable message, so callers get a stable code to switch
// on and a detailed string to log.
type OpError struct {
	Result Result
	Msg    string
}

func (e *OpError) Error() string {
	if e.Msg == "" {
		return e.Result.String()
	}
	return fmt.Sprintf("%s: %s", e.Result, e.Msg)
}

func NewOpError(result Result, msg string) *OpError {
	return &OpError{Result: result, Msg: msg}
}

var (
	// ErrAlreadyOpen is returned by Open on a channel whose open-count
	// transition is anything other than 0->1.
	ErrAlreadyOpen = errors.New("channel is already open")
	// ErrNotOpen is returned by operations that require an open channel.
	ErrNotOpen = errors.New("channel is not open")
	// ErrUnsupportedBitrate is returned by SetBusParameters[Fd] for any
	// bitrate outside the enumerated tables in pkg/protocol.
	ErrUnsupportedBitrate = errors.New("unsupported bitrate")
	// ErrSharedModeUnsupported is returned by Open when SharedMode is
	// requested; this device family never supports it.
	ErrSharedModeUnsupported = errors.New("shared mode not supported on this channel")
)
