package packet

import (
	"encoding/binary"

	"github.com/riftmq/broker/pkg/er"
)

type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
	Raw          []byte
}

func (up *UnsubscribePacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket}
	}
	if PacketType(raw[0]&0xF0) != UNSUBSCRIBE {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket}
	}
	if raw[0]&0x0F != 0x02 {
		return &er.Err{Context: "Unsubscribe, Fixed Header", Message: er.ErrInvalidUnsubscribeFlags}
	}
	up.Raw = raw

	remainingLength, lenOffset, err := parseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	offset := 1 + lenOffset
	if len(raw) != offset+remainingLength {
		return &er.Err{Context: "Unsubscribe, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	if remainingLength < 4 {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket}
	}

	if offset+2 > len(raw) {
		return &er.Err{Context: "Unsubscribe, PacketID", Message: er.ErrMissingPacketID}
	}
	up.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	if up.PacketID == 0 {
		return &er.Err{Context: "Unsubscribe, PacketID", Message: er.ErrInvalidPacketID}
	}
	offset += 2

	up.TopicFilters = make([]string, 0, 1)
	for offset < len(raw) {
		topic, n, err := parseString(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Unsubscribe, Topic Filter", Message: er.ErrInvalidUnsubscribePacket}
		}
		offset += n

		if err := validateTopicFilter(topic); err != nil {
			return err
		}
		up.TopicFilters = append(up.TopicFilters, topic)
	}

	if len(up.TopicFilters) == 0 {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrNoTopicFilters}
	}
	return nil
}

type UnsubackPacket struct {
	PacketID uint16
}

func (p *UnsubackPacket) Parse(raw []byte) error {
	if len(raw) != 4 {
		return &er.Err{Context: "Unsuback", Message: er.ErrShortBuffer}
	}
	if PacketType(raw[0]&0xF0) != UNSUBACK {
		return &er.Err{Context: "Unsuback", Message: er.ErrInvalidPacketType}
	}
	if raw[1] != 0x02 {
		return &er.Err{Context: "Unsuback", Message: er.ErrInvalidPacketLength}
	}
	p.PacketID = binary.BigEndian.Uint16(raw[2:4])
	return nil
}

func (p *UnsubackPacket) Encode() []byte {
	return []byte{byte(UNSUBACK), 0x02, byte(p.PacketID >> 8), byte(p.PacketID & 0xFF)}
}

// NewUnsubAck builds the wire bytes of an UNSUBACK for packetID.
func NewUnsubAck(packetID uint16) []byte {
	return (&UnsubackPacket{PacketID: packetID}).Encode()
}
