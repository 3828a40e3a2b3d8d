package packet

import (
	"encoding/binary"

	"github.com/riftmq/broker/pkg/er"
)

// PubackPacket, PubrecPacket, PubrelPacket and PubcompPacket are the four
// fixed-shape (type byte, 0x02, packet id) acknowledgment packets that
// drive the QoS 1 and QoS 2 handshakes (spec.md §4.9).
type PubackPacket struct{ PacketID uint16 }
type PubrecPacket struct{ PacketID uint16 }
type PubrelPacket struct{ PacketID uint16 }
type PubcompPacket struct{ PacketID uint16 }

func parseAck(raw []byte, want PacketType, context string) (uint16, error) {
	if len(raw) != 4 {
		return 0, &er.Err{Context: context, Message: er.ErrInvalidPacketLength}
	}
	if PacketType(raw[0]&0xF0) != want {
		return 0, &er.Err{Context: context, Message: er.ErrInvalidPacketType}
	}
	if raw[1] != 0x02 {
		return 0, &er.Err{Context: context, Message: er.ErrInvalidPacketLength}
	}
	return binary.BigEndian.Uint16(raw[2:4]), nil
}

func encodeAck(t PacketType, packetID uint16) []byte {
	flags := byte(0x00)
	if t == PUBREL {
		flags = 0x02 // PUBREL's fixed header reserved bits must be 0010
	}
	return []byte{byte(t) | flags, 0x02, byte(packetID >> 8), byte(packetID & 0xFF)}
}

func (p *PubackPacket) Parse(raw []byte) error {
	id, err := parseAck(raw, PUBACK, "Puback")
	if err != nil {
		return err
	}
	p.PacketID = id
	return nil
}

func (p *PubackPacket) Encode() []byte { return encodeAck(PUBACK, p.PacketID) }

// NewPubAck builds the wire bytes of a PUBACK for packetID.
func NewPubAck(packetID uint16) []byte { return encodeAck(PUBACK, packetID) }

func (p *PubrecPacket) Parse(raw []byte) error {
	id, err := parseAck(raw, PUBREC, "Pubrec")
	if err != nil {
		return err
	}
	p.PacketID = id
	return nil
}

func (p *PubrecPacket) Encode() []byte { return encodeAck(PUBREC, p.PacketID) }

// NewPubRec builds the wire bytes of a PUBREC for packetID.
func NewPubRec(packetID uint16) []byte { return encodeAck(PUBREC, packetID) }

func (p *PubrelPacket) Parse(raw []byte) error {
	id, err := parseAck(raw, PUBREL, "Pubrel")
	if err != nil {
		return err
	}
	p.PacketID = id
	return nil
}

func (p *PubrelPacket) Encode() []byte { return encodeAck(PUBREL, p.PacketID) }

// NewPubRel builds the wire bytes of a PUBREL for packetID.
func NewPubRel(packetID uint16) []byte { return encodeAck(PUBREL, packetID) }

func (p *PubcompPacket) Parse(raw []byte) error {
	id, err := parseAck(raw, PUBCOMP, "Pubcomp")
	if err != nil {
		return err
	}
	p.PacketID = id
	return nil
}

func (p *PubcompPacket) Encode() []byte { return encodeAck(PUBCOMP, p.PacketID) }

// NewPubComp builds the wire bytes of a PUBCOMP for packetID.
func NewPubComp(packetID uint16) []byte { return encodeAck(PUBCOMP, packetID) }
