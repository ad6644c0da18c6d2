package mqtt

// MQTT 3.1.1 control packet framing for the handful of packets a telemetry
// sensor sends.

import "fmt"

// MaxRemainingLength is the largest value the 4-byte remaining-length field holds.
const MaxRemainingLength = 268435455

// Fixed-header first bytes.
const (
	typeConnect    byte = 0x10
	typePublish    byte = 0x30
	typeSubscribe  byte = 0x82 // SUBSCRIBE requires flags 0b0010
	typeDisconnect byte = 0xE0
)

const (
	protocolName  = "MQTT"
	protocolLevel = 4
	flagClean     = 0x02
	keepAlive     = 60
)

// EncodeRemainingLength encodes n with the base-128 continuation scheme.
// Values outside [0, MaxRemainingLength] are rejected.
func EncodeRemainingLength(n int) ([]byte, error) {
	if n < 0 || n > MaxRemainingLength {
		return nil, fmt.Errorf("remaining length %d out of range", n)
	}
	out := make([]byte, 0, 4)
	for {
		d := byte(n % 128)
		n /= 128
		if n > 0 {
			d |= 0x80
		}
		out = append(out, d)
		if n == 0 {
			return out, nil
		}
	}
}

// DecodeRemainingLength decodes a remaining-length field from the start of b
// and returns the value and the number of bytes consumed.
func DecodeRemainingLength(b []byte) (int, int, error) {
	value, mult := 0, 1
	for i := 0; i < len(b) && i < 4; i++ {
		value += int(b[i]&0x7f) * mult
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		mult *= 128
	}
	if len(b) < 4 {
		return 0, 0, fmt.Errorf("remaining length truncated")
	}
	return 0, 0, fmt.Errorf("remaining length longer than 4 bytes")
}

// EncodeString prefixes s with its 2-byte big-endian length.
func EncodeString(s string) []byte {
	n := len(s)
	if n > 0xffff {
		n = 0xffff
	}
	out := make([]byte, 0, 2+n)
	out = append(out, byte(n>>8), byte(n))
	return append(out, s[:n]...)
}

func frame(first byte, body []byte) []byte {
	rl, err := EncodeRemainingLength(len(body))
	if err != nil {
		// Only reachable with bodies over 256 MiB, which nothing here builds.
		panic(err)
	}
	out := make([]byte, 0, 1+len(rl)+len(body))
	out = append(out, first)
	out = append(out, rl...)
	return append(out, body...)
}

// Connect builds a CONNECT packet: protocol MQTT level 4, clean session,
// 60s keepalive, no credentials.
func Connect(clientID string) []byte {
	body := EncodeString(protocolName)
	body = append(body, protocolLevel, flagClean, 0x00, keepAlive)
	body = append(body, EncodeString(clientID)...)
	return frame(typeConnect, body)
}

// Subscribe builds a SUBSCRIBE for a single topic filter at QoS 0.
func Subscribe(packetID uint16, topic string) []byte {
	body := []byte{byte(packetID >> 8), byte(packetID)}
	body = append(body, EncodeString(topic)...)
	body = append(body, 0x00)
	return frame(typeSubscribe, body)
}

// Publish builds a QoS 0 PUBLISH; QoS 0 carries no packet identifier.
func Publish(topic string, payload []byte) []byte {
	body := EncodeString(topic)
	body = append(body, payload...)
	return frame(typePublish, body)
}

// Disconnect returns the fixed two-byte DISCONNECT packet.
func Disconnect() []byte {
	return []byte{typeDisconnect, 0x00}
}
