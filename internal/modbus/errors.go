package modbus

import "errors"

// Domain-specific errors for frame encoding and decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedFrame is returned when a buffer cannot be parsed as a
	// register frame (too short, truncated payload, bad checksum).
	ErrMalformedFrame = errors.New("modbus: malformed frame")

	// ErrInvalidRange is returned when an encoder is given a register
	// count or address outside the representable range.
	ErrInvalidRange = errors.New("modbus: invalid register range")
)
