package packet

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/riftmq/broker/pkg/er"
)

// encodeRemainingLength encodes length as the MQTT variable-length integer
// (1-4 bytes, continuation bit 0x80).
func encodeRemainingLength(length int) []byte {
	if length < 0 {
		return []byte{0}
	}

	var encoded []byte
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		encoded = append(encoded, b)
		if length == 0 || len(encoded) >= 4 {
			break
		}
	}
	return encoded
}

// parseRemainingLength decodes the variable-length Remaining Length field
// starting at data[0]. It returns the decoded length and the number of
// bytes the field itself occupied.
func parseRemainingLength(data []byte) (int, int, error) {
	var length, multiplier, offset int
	multiplier = 1

	for {
		if offset >= len(data) {
			return 0, 0, &er.Err{Context: "RemainingLength", Message: er.ErrShortBuffer}
		}
		if offset >= 4 {
			return 0, 0, &er.Err{Context: "RemainingLength", Message: er.ErrRemainingLengthExceeded}
		}

		b := data[offset]
		length += int(b&0x7F) * multiplier
		if length > MaxPayloadSize {
			return 0, 0, &er.Err{Context: "RemainingLength", Message: er.ErrRemainingLengthExceeded}
		}
		multiplier *= 128
		offset++
		if b&0x80 == 0 {
			break
		}
	}
	return length, offset, nil
}

// parseString decodes a two-byte-length-prefixed UTF-8 string.
func parseString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrShortBuffer}
	}
	length := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+length {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrShortBuffer}
	}
	s := string(data[2 : 2+length])
	if !utf8.ValidString(s) {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrInvalidUTF8String}
	}
	return s, 2 + length, nil
}

// encodeString encodes s as a two-byte-length-prefixed UTF-8 string.
func encodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

func encodePacketID(id uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, id)
	return out
}

func stringPtr(s string) *string {
	return &s
}
