package mqtt

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the MQTT engine.
var (
	// ErrMalformedPacket is returned when the inbound byte stream cannot
	// be framed as an MQTT control packet. Always fatal to the session.
	ErrMalformedPacket = errors.New("mqtt: malformed packet")

	// ErrNotConnected is returned by Publish and Subscribe when the
	// session is not in the connected state.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrKeepAliveTimeout is the disconnect reason when the broker fails
	// to answer a PINGREQ within the keep-alive window.
	ErrKeepAliveTimeout = errors.New("mqtt: keep-alive timeout")

	// ErrSessionClosed is returned when an operation races a shutdown.
	ErrSessionClosed = errors.New("mqtt: session closed")
)

// CONNACK return codes (MQTT 3.1.1 §3.2.2.3).
const (
	ConnAccepted          byte = 0x00
	ConnRefusedVersion    byte = 0x01
	ConnRefusedIdentifier byte = 0x02
	ConnRefusedServer     byte = 0x03
	ConnRefusedBadAuth    byte = 0x04
	ConnRefusedNotAuth    byte = 0x05
)

// ConnectError is a CONNACK refusal. Code 0x05 (not authorised) is the
// signal that the MQTT token has been rejected and a full
// re-authentication is needed.
type ConnectError struct {
	Code byte
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mqtt: connection refused (return code %d)", e.Code)
}

// IsAuthFailure reports whether the refusal indicates rejected
// credentials rather than a transient broker condition.
func (e *ConnectError) IsAuthFailure() bool {
	return e.Code == ConnRefusedBadAuth || e.Code == ConnRefusedNotAuth
}
