package cloud

import "errors"

// Domain-specific errors for cloud operations.
var (
	// ErrAuthFailed is returned when an authentication stage is rejected
	// by the vendor endpoint.
	ErrAuthFailed = errors.New("cloud: authentication failed")

	// ErrNotConnected is returned by Publish when no MQTT session is up.
	ErrNotConnected = errors.New("cloud: not connected")

	// ErrDiscoveryFailed is returned when the device list cannot be
	// fetched and no cached copy exists.
	ErrDiscoveryFailed = errors.New("cloud: device discovery failed")

	// ErrReconnectExhausted is the terminal error emitted after the
	// retry budget is spent. The client stops retrying once it fires.
	ErrReconnectExhausted = errors.New("cloud: reconnect attempts exhausted")

	// ErrShutdown is returned when an operation races a graceful shutdown.
	ErrShutdown = errors.New("cloud: client shut down")
)
