// Package modbus implements the register frame codec used by Fossibot
// power stations.
//
// The devices speak a Modbus-flavoured dialect over MQTT payloads rather
// than a serial line. Two physical shapes arrive from the cloud:
//
//   - Bare data: [slave][fc][byteCount][payload...], where byte 2 is a
//     non-zero byte count and registers follow directly. Function code
//     0x04 responses use this shape. Any trailing bytes are ignored.
//   - Request echo: [slave][fc][0x00][...], where byte 2 is the high byte of a
//     big-endian start register, followed by a count (or, for function
//     code 0x06, the written value) and a trailing big-endian CRC-16.
//
// Outbound command frames are always 8 bytes: write-single-register
// (0x06) and read-range (0x03 holding / 0x04 input) requests, checksummed
// with CRC-16/Modbus appended high byte first.
package modbus
