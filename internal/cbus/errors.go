package cbus

import "errors"

// Sentinel errors for C-Bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a closed transport.
	ErrNotConnected = errors.New("cbus: not connected")

	// ErrConnectionFailed is returned when the connection attempt fails.
	ErrConnectionFailed = errors.New("cbus: connection failed")

	// ErrReadTimeout is returned by ReadLine when no complete line arrives
	// within the timeout. This is a normal occurrence on a quiet bus.
	ErrReadTimeout = errors.New("cbus: read timeout")

	// ErrMalformedLine is returned when a response line fails hex or length
	// checks. Decode failures are local: callers log and drop the line.
	ErrMalformedLine = errors.New("cbus: malformed line")

	// ErrApplicationMismatch is returned when a group-state line carries an
	// application id other than the configured one. The line is discarded.
	ErrApplicationMismatch = errors.New("cbus: application mismatch")

	// ErrEmptyLine is returned when Decode is given an empty line.
	ErrEmptyLine = errors.New("cbus: empty line")

	// ErrCommandFailed is returned when writing a command to the bus fails.
	ErrCommandFailed = errors.New("cbus: command failed")

	// ErrCommandQueueFull is returned when the outbound command queue is full.
	// The command is dropped; the next poll tick re-syncs state naturally.
	ErrCommandQueueFull = errors.New("cbus: command queue full")

	// ErrUnsupportedInterface is returned for unknown interface types.
	ErrUnsupportedInterface = errors.New("cbus: unsupported interface type")

	// ErrAddressRange is returned when a group, level or ramp value is
	// outside 0-255.
	ErrAddressRange = errors.New("cbus: value out of range 0-255")
)
