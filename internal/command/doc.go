// Package command defines the closed set of commands a Fossibot device
// accepts, each bound to a target register with validated value ranges.
//
// Commands are plain values (a tagged struct, not a type hierarchy).
// The ResponseClass tells the bridge how the device will answer:
//
//   - Immediate: output toggles answered on the .../client/04 topic
//   - Delayed: settings writes whose effect only shows up in the next
//     spontaneous data update or explicit read
//   - ReadResponse: holding-register read requests
//
// Constructors reject out-of-range input with ErrInvalidArgument so a
// malformed local MQTT command can never reach the device.
package command
