package stack

import "errors"

// Configuration errors: raised at registration time and must be fixed before
// the stack runs.
var (
	// ErrRunning reports a registration attempted after Run.
	ErrRunning = errors.New("stack: already running")
	// ErrDuplicateProtocol reports a second registration for a frame type.
	ErrDuplicateProtocol = errors.New("stack: protocol type already registered")
	// ErrNoTransmit reports a device registered without a driver.
	ErrNoTransmit = errors.New("stack: device has no transmit operation")
)

// Transient errors: a single operation failed, the system stays healthy.
var (
	// ErrDeviceNotUp reports a transmit on a device that is not opened.
	ErrDeviceNotUp = errors.New("stack: device not up")
	// ErrFrameTooLong reports a frame exceeding the device MTU.
	ErrFrameTooLong = errors.New("stack: frame exceeds device MTU")
	// ErrQueueFull reports a transmit rejected by a bounded device queue.
	// The caller decides whether to drop or retry; no automatic retry exists.
	ErrQueueFull = errors.New("stack: device queue is full")
)
