package device

import (
	"context"
	"errors"
)

var (
	// ErrDeviceNotFound is returned when a named target is absent from the
	// current registry snapshot, or present but unreachable.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnreachable wraps every hardware I/O failure and timeout.
	ErrUnreachable = errors.New("device: unreachable")

	// ErrTimeout marks a hardware transaction that did not finish in time.
	ErrTimeout = errors.New("device: transaction timed out")

	// ErrInvalidRequest is returned for malformed values or flag combinations.
	ErrInvalidRequest = errors.New("device: invalid request")

	// ErrProtocol is returned for malformed IPC framing.
	ErrProtocol = errors.New("device: protocol error")
)

// ErrorKind is the wire name of an error class.
type ErrorKind string

const (
	KindDeviceNotFound ErrorKind = "DeviceNotFound"
	KindUnreachable    ErrorKind = "Unreachable"
	KindInvalidRequest ErrorKind = "InvalidRequest"
	KindProtocolError  ErrorKind = "ProtocolError"
)

// KindOf classifies err. Anything not recognised is treated as a hardware
// failure.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrProtocol):
		return KindProtocolError
	default:
		return KindUnreachable
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
