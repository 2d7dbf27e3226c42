package modbus

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants.
const (
	// SlaveID is the fixed slave address used by all Fossibot devices.
	SlaveID byte = 0x11

	// FuncReadHolding reads holding registers (settings).
	FuncReadHolding byte = 0x03

	// FuncReadInput reads input registers (live measurements).
	FuncReadInput byte = 0x04

	// FuncWriteSingle writes a single register.
	FuncWriteSingle byte = 0x06

	// minFrameLen is the minimum length of a decodable frame.
	minFrameLen = 8

	// echoHeaderLen is the length of the request-echo header
	// (slave + fc + start + count) before payload and CRC.
	echoHeaderLen = 6

	// bareHeaderLen is the length of the bare-data header
	// (slave + fc + byte count).
	bareHeaderLen = 3
)

// RegisterKind distinguishes the two register banks. The bridge applies
// both kinds to the same device state; the kind is retained only for
// observability (log fields, debug toggles).
type RegisterKind string

const (
	// KindHolding marks settings registers (function code 0x03).
	KindHolding RegisterKind = "holding"

	// KindInput marks live-measurement registers (any other code).
	KindInput RegisterKind = "input"
)

// Frame is the logical content of a decoded register frame: slave id,
// function code, and a register-index → value map.
type Frame struct {
	// SlaveID is the device slave address (0x11 for Fossibot).
	SlaveID byte

	// FunctionCode is the Modbus function code (0x03, 0x04 or 0x06).
	FunctionCode byte

	// StartRegister is the first register index when the frame carried
	// one (request-echo shape), or 0 for bare-data frames.
	StartRegister int

	// Registers maps register index → 16-bit value. For request-echo
	// frames the keys are absolute register indices; for bare-data
	// frames they are 0-based positions in the payload.
	Registers map[int]uint16

	// Checksummed reports whether the frame carried a CRC that was
	// validated during decode.
	Checksummed bool
}

// Kind returns the register bank addressed by the frame's function code.
func (f Frame) Kind() RegisterKind {
	if f.FunctionCode == FuncReadHolding {
		return KindHolding
	}
	return KindInput
}

// Register returns the value of a register and whether it was present.
func (f Frame) Register(index int) (uint16, bool) {
	v, ok := f.Registers[index]
	return v, ok
}

// String returns a compact human-readable representation for logging.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{fc:0x%02X, start:%d, registers:%d}",
		f.FunctionCode, f.StartRegister, len(f.Registers))
}

// Decode parses a raw payload into a Frame.
//
// Byte 2 selects the shape: 0x00 means a request-echo header (big-endian
// start register and count, payload, trailing CRC), anything else is a
// byte count with registers following directly.
//
// Returns ErrMalformedFrame when the buffer is shorter than 8 bytes, when
// the declared size exceeds the buffer, when a bare-data frame declares a
// zero register count, or when a request-echo checksum does not match.
func Decode(data []byte) (Frame, error) {
	if len(data) < minFrameLen {
		return Frame{}, fmt.Errorf("%w: %d bytes (need at least %d)",
			ErrMalformedFrame, len(data), minFrameLen)
	}

	if data[2] == 0x00 {
		return decodeEcho(data)
	}
	return decodeBare(data)
}

// decodeEcho parses the request-echo shape:
// [slave][fc][startHi][startLo][countHi][countLo][payload...][crcHi][crcLo].
//
// For function code 0x06 the count field carries the written value and
// there is no payload, which makes decode(encodeWriteSingle(r, v))
// round-trip to {r: v}.
func decodeEcho(data []byte) (Frame, error) {
	slave := data[0]
	fc := data[1]
	start := int(binary.BigEndian.Uint16(data[2:4]))
	count := int(binary.BigEndian.Uint16(data[4:6]))

	if !VerifyCRC(data) {
		return Frame{}, fmt.Errorf("%w: checksum mismatch", ErrMalformedFrame)
	}

	frame := Frame{
		SlaveID:       slave,
		FunctionCode:  fc,
		StartRegister: start,
		Registers:     make(map[int]uint16),
		Checksummed:   true,
	}

	if fc == FuncWriteSingle {
		// Write echo: count field is the written value.
		frame.Registers[start] = uint16(count)
		return frame, nil
	}

	declared := echoHeaderLen + count*2 + 2
	if declared > len(data) {
		return Frame{}, fmt.Errorf("%w: declared %d registers, buffer %d bytes",
			ErrMalformedFrame, count, len(data))
	}

	for i := 0; i < count; i++ {
		offset := echoHeaderLen + i*2
		frame.Registers[start+i] = binary.BigEndian.Uint16(data[offset : offset+2])
	}

	return frame, nil
}

// decodeBare parses the bare-data shape:
// [slave][fc][byteCount][payload...]. Trailing bytes after the payload
// (the devices append an unvalidated CRC) are ignored.
func decodeBare(data []byte) (Frame, error) {
	byteCount := int(data[2])
	if byteCount == 0 || byteCount%2 != 0 {
		return Frame{}, fmt.Errorf("%w: bad byte count %d", ErrMalformedFrame, byteCount)
	}
	if bareHeaderLen+byteCount > len(data) {
		return Frame{}, fmt.Errorf("%w: declared %d payload bytes, buffer %d bytes",
			ErrMalformedFrame, byteCount, len(data))
	}

	frame := Frame{
		SlaveID:      data[0],
		FunctionCode: data[1],
		Registers:    make(map[int]uint16, byteCount/2),
	}

	for i := 0; i < byteCount/2; i++ {
		offset := bareHeaderLen + i*2
		frame.Registers[i] = binary.BigEndian.Uint16(data[offset : offset+2])
	}

	return frame, nil
}

// EncodeWriteSingle builds a write-single-register command frame:
// [slave][0x06][regHi][regLo][valHi][valLo][crcHi][crcLo].
func EncodeWriteSingle(register int, value uint16) ([]byte, error) {
	if register < 0 || register > 0xFFFF {
		return nil, fmt.Errorf("%w: register %d", ErrInvalidRange, register)
	}

	buf := make([]byte, echoHeaderLen)
	buf[0] = SlaveID
	buf[1] = FuncWriteSingle
	binary.BigEndian.PutUint16(buf[2:4], uint16(register))
	binary.BigEndian.PutUint16(buf[4:6], value)

	return AppendCRC(buf), nil
}

// EncodeReadRange builds a read-registers request frame:
// [slave][0x03|0x04][startHi][startLo][countHi][countLo][crcHi][crcLo].
// holding selects function code 0x03; otherwise 0x04 (input registers).
func EncodeReadRange(start, count int, holding bool) ([]byte, error) {
	if start < 0 || start > 0xFFFF {
		return nil, fmt.Errorf("%w: start register %d", ErrInvalidRange, start)
	}
	if count < 1 || count > 0x7D {
		return nil, fmt.Errorf("%w: register count %d", ErrInvalidRange, count)
	}

	fc := FuncReadInput
	if holding {
		fc = FuncReadHolding
	}

	buf := make([]byte, echoHeaderLen)
	buf[0] = SlaveID
	buf[1] = fc
	binary.BigEndian.PutUint16(buf[2:4], uint16(start))
	binary.BigEndian.PutUint16(buf[4:6], uint16(count))

	return AppendCRC(buf), nil
}
