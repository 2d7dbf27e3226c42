package modbus

import (
	"bytes"
	"testing"
)

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			// Reference value for the classic Modbus test vector.
			name: "read holding registers request",
			data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
			want: 0xCDC5,
		},
		{
			name: "empty input",
			data: nil,
			want: 0xFFFF,
		},
		{
			name: "single zero byte",
			data: []byte{0x00},
			want: 0x40BF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestAppendAndVerifyCRC(t *testing.T) {
	data := []byte{0x11, 0x06, 0x00, 0x18, 0x00, 0x01}
	framed := AppendCRC(data)

	if len(framed) != len(data)+2 {
		t.Fatalf("AppendCRC() length = %d, want %d", len(framed), len(data)+2)
	}
	if !bytes.Equal(framed[:len(data)], data) {
		t.Errorf("AppendCRC() mutated the payload")
	}

	// Checksum is appended high byte first.
	crc := CRC16(data)
	if framed[len(data)] != byte(crc>>8) || framed[len(data)+1] != byte(crc&0xFF) {
		t.Errorf("AppendCRC() byte order = % X, want big-endian 0x%04X",
			framed[len(data):], crc)
	}

	if !VerifyCRC(framed) {
		t.Errorf("VerifyCRC() = false for a freshly checksummed frame")
	}

	// Corrupt one payload byte.
	framed[3] ^= 0xFF
	if VerifyCRC(framed) {
		t.Errorf("VerifyCRC() = true for a corrupted frame")
	}
}

func TestVerifyCRCTooShort(t *testing.T) {
	if VerifyCRC([]byte{0x01, 0x02, 0x03}) {
		t.Errorf("VerifyCRC() = true for a 3-byte buffer")
	}
}
