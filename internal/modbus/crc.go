package modbus

// CRC16 calculates the CRC-16/Modbus checksum of data.
//
// Algorithm: init 0xFFFF, polynomial 0xA001 (reflected 0x8005),
// bytewise LSB-first shift, no final XOR.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)

	for _, b := range data {
		crc ^= uint16(b)

		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}

// AppendCRC appends the CRC-16 checksum to data and returns the new slice.
//
// The Fossibot cloud expects the checksum big-endian (high byte first),
// unlike classic Modbus RTU which sends the low byte first.
func AppendCRC(data []byte) []byte {
	crc := CRC16(data)

	result := make([]byte, len(data)+2)
	copy(result, data)
	result[len(data)] = byte(crc >> 8)
	result[len(data)+1] = byte(crc & 0xFF)

	return result
}

// VerifyCRC checks the trailing big-endian CRC-16 of a frame.
// Returns false for buffers too short to carry a checksum.
func VerifyCRC(data []byte) bool {
	if len(data) < 4 {
		return false
	}

	calculated := CRC16(data[:len(data)-2])
	received := uint16(data[len(data)-2])<<8 | uint16(data[len(data)-1])

	return calculated == received
}
