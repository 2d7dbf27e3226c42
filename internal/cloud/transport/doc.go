// Package transport provides the byte-stream layer beneath the cloud
// MQTT session.
//
// A Transport dials the vendor endpoint and hands back a Stream: inbound
// bytes arrive on a channel, outbound bytes go through Write, and the
// stream signals termination through Done with the reason in Err.
//
// Two implementations exist. The WebSocket transport speaks the vendor's
// production path (binary frames on /mqtt with the "mqtt" sub-protocol);
// the TCP transport passes bytes through unchanged for brokers that
// expose a plain MQTT port.
package transport
