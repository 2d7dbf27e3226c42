// Package cloud drives one vendor-cloud account: signed HTTP
// authentication, device discovery, and the MQTT session the devices
// report on.
//
// The vendor backend is a serverless gateway. Every request carries an
// HMAC-MD5 signature over its sorted fields, and authentication is a
// three-stage pipeline (anonymous token, login token, MQTT JWT), each
// stage cacheable on disk so a warm restart performs no HTTP at all.
//
// Session loss is handled by a three-tier reconnect strategy: a warm
// reconnect reuses the cached tokens; a full re-authentication clears
// them first (mandatory when the broker answers CONNACK code 5); and
// failed attempts are retried on a bounded backoff schedule before the
// client surfaces a terminal error.
package cloud
