package dispatch

import "errors"

// Synchronous dispatch errors. Use errors.Is to check for these.
var (
	// ErrDeviceNotConnected is returned when the device has no live transport.
	ErrDeviceNotConnected = errors.New("dispatch: device not connected")

	// ErrInvalidCommand is returned for a command type outside the known set.
	ErrInvalidCommand = errors.New("dispatch: invalid command")

	// ErrDispatchFailed is returned when the selected transport's local send fails.
	ErrDispatchFailed = errors.New("dispatch: send failed")
)

// Asynchronous outcomes. They are never returned from Dispatch; they appear
// in audit details and notification payloads, and callers may wrap them.
var (
	ErrCommandTimedOut = errors.New("dispatch: command timed out")
	ErrCommandFailed   = errors.New("dispatch: command failed on device")
)

// ErrInvalidEvent is returned by the ingestion entry points for events
// missing required fields. Late or duplicate acks are not invalid.
var ErrInvalidEvent = errors.New("dispatch: invalid event")
