package mqtt

import (
	"encoding/binary"
	"fmt"
)

// Control packet types (high nibble of the fixed header).
const (
	packetConnect     byte = 1
	packetConnack     byte = 2
	packetPublish     byte = 3
	packetPuback      byte = 4
	packetSubscribe   byte = 8
	packetSuback      byte = 9
	packetUnsubscribe byte = 10
	packetUnsuback    byte = 11
	packetPingreq     byte = 12
	packetPingresp    byte = 13
	packetDisconnect  byte = 14
)

// protocolName and protocolLevel identify MQTT 3.1.1 in CONNECT.
const (
	protocolName  = "MQTT"
	protocolLevel = 4
)

// maxRemainingLength is the protocol ceiling: four length bytes encode
// at most 268 435 455 payload bytes.
const maxRemainingLength = 268435455

// encodeRemainingLength appends the variable-length remaining-length
// field to dst (MQTT 3.1.1 §2.2.3).
func encodeRemainingLength(dst []byte, n int) []byte {
	for {
		digit := byte(n % 128)
		n /= 128
		if n > 0 {
			digit |= 0x80
		}
		dst = append(dst, digit)
		if n == 0 {
			return dst
		}
	}
}

// decodeRemainingLength reads the remaining-length field from buf.
//
// Returns the decoded length and how many bytes it occupied. A zero
// consumed count means the field is incomplete (wait for more bytes);
// an error means the stream is unrecoverable.
func decodeRemainingLength(buf []byte) (length, consumed int, err error) {
	multiplier := 1
	for i := 0; i < 4; i++ {
		if i >= len(buf) {
			return 0, 0, nil // incomplete
		}
		digit := buf[i]
		length += int(digit&0x7F) * multiplier
		if digit&0x80 == 0 {
			return length, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, fmt.Errorf("%w: remaining length exceeds 4 bytes", ErrMalformedPacket)
}

// appendMQTTString appends a length-prefixed UTF-8 string.
func appendMQTTString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// readMQTTString consumes a length-prefixed string from buf.
func readMQTTString(buf []byte) (s string, rest []byte, err error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("%w: truncated string length", ErrMalformedPacket)
	}
	n := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+n {
		return "", nil, fmt.Errorf("%w: truncated string body", ErrMalformedPacket)
	}
	return string(buf[2 : 2+n]), buf[2+n:], nil
}

// connectOptions carries the CONNECT variable header and payload fields.
type connectOptions struct {
	clientID     string
	username     string
	password     string
	cleanSession bool
	keepAliveSec uint16
}

// encodeConnect builds a CONNECT packet.
func encodeConnect(opts connectOptions) []byte {
	var flags byte
	if opts.cleanSession {
		flags |= 0x02
	}
	if opts.username != "" {
		flags |= 0x80
	}
	if opts.password != "" {
		flags |= 0x40
	}

	var body []byte
	body = appendMQTTString(body, protocolName)
	body = append(body, protocolLevel, flags)
	body = binary.BigEndian.AppendUint16(body, opts.keepAliveSec)
	body = appendMQTTString(body, opts.clientID)
	if opts.username != "" {
		body = appendMQTTString(body, opts.username)
	}
	if opts.password != "" {
		body = appendMQTTString(body, opts.password)
	}

	pkt := []byte{packetConnect << 4}
	pkt = encodeRemainingLength(pkt, len(body))
	return append(pkt, body...)
}

// decodeConnack extracts the session-present flag and return code.
func decodeConnack(body []byte) (sessionPresent bool, returnCode byte, err error) {
	if len(body) != 2 {
		return false, 0, fmt.Errorf("%w: connack body length %d", ErrMalformedPacket, len(body))
	}
	return body[0]&0x01 != 0, body[1], nil
}

// encodePublish builds a PUBLISH packet. QoS 1 and above require a
// non-zero packet identifier; QoS 0 must pass packetID 0.
func encodePublish(topic string, payload []byte, qos byte, packetID uint16) []byte {
	var body []byte
	body = appendMQTTString(body, topic)
	if qos > 0 {
		body = binary.BigEndian.AppendUint16(body, packetID)
	}
	body = append(body, payload...)

	pkt := []byte{packetPublish<<4 | qos<<1}
	pkt = encodeRemainingLength(pkt, len(body))
	return append(pkt, body...)
}

// publishPacket is a decoded inbound PUBLISH.
type publishPacket struct {
	topic    string
	payload  []byte
	qos      byte
	packetID uint16 // zero for QoS 0
}

// decodePublish parses an inbound PUBLISH body. flags is the low nibble
// of the fixed header (DUP/QoS/RETAIN).
func decodePublish(flags byte, body []byte) (publishPacket, error) {
	qos := (flags >> 1) & 0x03
	if qos == 3 {
		return publishPacket{}, fmt.Errorf("%w: publish qos 3", ErrMalformedPacket)
	}

	topic, rest, err := readMQTTString(body)
	if err != nil {
		return publishPacket{}, err
	}

	var packetID uint16
	if qos > 0 {
		if len(rest) < 2 {
			return publishPacket{}, fmt.Errorf("%w: publish missing packet id", ErrMalformedPacket)
		}
		packetID = binary.BigEndian.Uint16(rest)
		rest = rest[2:]
	}

	return publishPacket{
		topic:    topic,
		payload:  rest,
		qos:      qos,
		packetID: packetID,
	}, nil
}

// encodePuback builds a PUBACK for a QoS 1 PUBLISH received from the peer.
func encodePuback(packetID uint16) []byte {
	pkt := []byte{packetPuback << 4, 2}
	return binary.BigEndian.AppendUint16(pkt, packetID)
}

// encodeSubscribe builds a SUBSCRIBE packet for a single topic filter.
// The fixed header carries the mandatory 0x02 reserved flags.
func encodeSubscribe(packetID uint16, topic string, qos byte) []byte {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, packetID)
	body = appendMQTTString(body, topic)
	body = append(body, qos)

	pkt := []byte{packetSubscribe<<4 | 0x02}
	pkt = encodeRemainingLength(pkt, len(body))
	return append(pkt, body...)
}

// subackFailure is the per-topic SUBACK code for a rejected subscription.
const subackFailure byte = 0x80

// decodeSuback extracts the packet identifier and granted QoS codes.
func decodeSuback(body []byte) (packetID uint16, codes []byte, err error) {
	if len(body) < 3 {
		return 0, nil, fmt.Errorf("%w: suback body length %d", ErrMalformedPacket, len(body))
	}
	return binary.BigEndian.Uint16(body), body[2:], nil
}

// Fixed two-byte packets.
var (
	pingreqPacket    = []byte{packetPingreq << 4, 0}
	pingrespPacket   = []byte{packetPingresp << 4, 0}
	disconnectPacket = []byte{packetDisconnect << 4, 0}
)
