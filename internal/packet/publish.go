package packet

import (
	"encoding/binary"

	"github.com/riftmq/broker/pkg/er"
)

// PublishPacket is the decoded PUBLISH fixed header, variable header and
// payload.
type PublishPacket struct {
	DUP    bool
	QoS    QoSLevel
	Retain bool

	Topic    string
	PacketID *uint16 // nil for QoS 0

	Payload []byte

	Raw []byte
}

func (pp *PublishPacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}
	if PacketType(raw[0]&0xF0) != PUBLISH {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}
	pp.Raw = raw

	remainingLength, lenOffset, err := parseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	offset := 1 + lenOffset
	if len(raw) != offset+remainingLength {
		return &er.Err{Context: "Publish, Packet Length", Message: er.ErrInvalidPacketLength}
	}

	fixedHeader := raw[0]
	pp.DUP = fixedHeader&0x08 != 0
	pp.QoS = QoSLevel((fixedHeader & 0x06) >> 1)
	pp.Retain = fixedHeader&0x01 != 0

	if pp.QoS > QoSExactlyOnce {
		return &er.Err{Context: "Publish, QoS", Message: er.ErrInvalidQoSLevel}
	}
	if pp.DUP && pp.QoS == QoSAtMostOnce {
		return &er.Err{Context: "Publish, DUP Flag", Message: er.ErrInvalidDUPFlag}
	}

	topic, n, err := parseString(raw[offset:])
	if err != nil {
		return &er.Err{Context: "Publish, Topic", Message: er.ErrInvalidPublishPacket}
	}
	pp.Topic = topic
	offset += n

	if err := validateTopicName(pp.Topic); err != nil {
		return err
	}

	if pp.QoS != QoSAtMostOnce {
		if offset+2 > len(raw) {
			return &er.Err{Context: "Publish, PacketID", Message: er.ErrMissingPacketID}
		}
		id := binary.BigEndian.Uint16(raw[offset : offset+2])
		if id == 0 {
			return &er.Err{Context: "Publish, PacketID", Message: er.ErrInvalidPacketID}
		}
		pp.PacketID = &id
		offset += 2
	}

	if offset < len(raw) {
		payloadLen := len(raw) - offset
		if payloadLen > MaxPayloadSize {
			return &er.Err{Context: "Publish, Payload", Message: er.ErrPayloadTooLarge}
		}
		pp.Payload = make([]byte, payloadLen)
		copy(pp.Payload, raw[offset:])
	}

	return nil
}

// Encode serializes the PUBLISH packet back to wire bytes.
func (pp *PublishPacket) Encode() []byte {
	var variableHeader []byte
	variableHeader = append(variableHeader, encodeString(pp.Topic)...)
	if pp.QoS != QoSAtMostOnce && pp.PacketID != nil {
		variableHeader = append(variableHeader, encodePacketID(*pp.PacketID)...)
	}

	remainingLength := len(variableHeader) + len(pp.Payload)

	fixedHeaderByte := byte(PUBLISH)
	if pp.DUP {
		fixedHeaderByte |= 0x08
	}
	fixedHeaderByte |= byte(pp.QoS) << 1
	if pp.Retain {
		fixedHeaderByte |= 0x01
	}

	out := make([]byte, 0, 1+4+remainingLength)
	out = append(out, fixedHeaderByte)
	out = append(out, encodeRemainingLength(remainingLength)...)
	out = append(out, variableHeader...)
	out = append(out, pp.Payload...)
	return out
}
