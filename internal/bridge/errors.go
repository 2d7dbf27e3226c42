package bridge

import "errors"

// Domain-specific errors for bridge operations.
var (
	// ErrUnknownTopic is returned when a topic matches no recognised
	// pattern.
	ErrUnknownTopic = errors.New("bridge: unrecognised topic")

	// ErrUnknownDevice is returned when a command targets a MAC not
	// present on any account.
	ErrUnknownDevice = errors.New("bridge: unknown device")
)
