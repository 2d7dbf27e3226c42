package transport

import "errors"

// Domain-specific errors for transport operations.
var (
	// ErrDialFailed is returned when the endpoint cannot be reached
	// within the dial timeout.
	ErrDialFailed = errors.New("transport: dial failed")

	// ErrStreamClosed is returned by Write after the stream has ended.
	ErrStreamClosed = errors.New("transport: stream closed")

	// ErrTextFrame is the termination reason when the peer sends a
	// WebSocket text frame; the cloud protocol is binary-only.
	ErrTextFrame = errors.New("transport: unexpected text frame")
)
