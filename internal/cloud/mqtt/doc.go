// Package mqtt implements a minimal MQTT 3.1.1 client driven by a
// pluggable byte transport.
//
// The vendor cloud speaks plain MQTT over a WebSocket, so a full-featured
// broker client buys nothing here: the session needs CONNECT/CONNACK with
// the return code visible to the caller (an authorisation refusal must
// trigger re-authentication, not a blind retry), SUBSCRIBE/SUBACK
// correlation, QoS 0/1 PUBLISH, and keep-alive pings. Everything else in
// the protocol is out of scope.
//
// The engine owns one Stream for its lifetime. Any framing error,
// unexpected packet, or transport failure ends the session; reconnection
// policy belongs to the caller.
package mqtt
