// Package packet is the MQTT 3.1 / 3.1.1 wire codec: it turns raw bytes
// read off a connection into typed control packets, and typed control
// packets back into bytes. It is the "byte-level MQTT codec" spec.md §1
// names as an external collaborator — the broker core never inspects a
// byte buffer directly, only the structs this package produces.
package packet

import "github.com/riftmq/broker/pkg/er"

// PacketType is the high nibble of the fixed header's first byte.
type PacketType byte

const (
	CONNECT     PacketType = 0x10
	CONNACK     PacketType = 0x20
	PUBLISH     PacketType = 0x30
	PUBACK      PacketType = 0x40
	PUBREC      PacketType = 0x50
	PUBREL      PacketType = 0x60
	PUBCOMP     PacketType = 0x70
	SUBSCRIBE   PacketType = 0x80
	SUBACK      PacketType = 0x90
	UNSUBSCRIBE PacketType = 0xA0
	UNSUBACK    PacketType = 0xB0
	PINGREQ     PacketType = 0xC0
	PINGRESP    PacketType = 0xD0
	DISCONNECT  PacketType = 0xE0
)

// String renders the packet type for logging.
func (t PacketType) String() string {
	switch t {
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case PUBLISH:
		return "PUBLISH"
	case PUBACK:
		return "PUBACK"
	case PUBREC:
		return "PUBREC"
	case PUBREL:
		return "PUBREL"
	case PUBCOMP:
		return "PUBCOMP"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case UNSUBACK:
		return "UNSUBACK"
	case PINGREQ:
		return "PINGREQ"
	case PINGRESP:
		return "PINGRESP"
	case DISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// QoSLevel is the MQTT quality-of-service level: 0 at most once, 1 at
// least once, 2 exactly once.
type QoSLevel uint8

const (
	QoSAtMostOnce  QoSLevel = 0
	QoSAtLeastOnce QoSLevel = 1
	QoSExactlyOnce QoSLevel = 2

	// MaxPayloadSize is the largest Remaining Length a 4-byte varint can encode.
	MaxPayloadSize = 268435455
)

// ParsedPacket is the dispatch envelope Parse returns: exactly one of the
// typed fields is populated, matching Type.
type ParsedPacket struct {
	Type        PacketType
	Raw         []byte
	Connect     *ConnectPacket
	Publish     *PublishPacket
	Puback      *PubackPacket
	Pubrec      *PubrecPacket
	Pubrel      *PubrelPacket
	Pubcomp     *PubcompPacket
	Subscribe   *SubscribePacket
	Unsubscribe *UnsubscribePacket
	Pingreq     *PingreqPacket
	Disconnect  *DisconnectPacket
}

// Parse determines the packet type from the fixed header and decodes the
// rest of raw into the matching typed packet.
func Parse(raw []byte) (*ParsedPacket, error) {
	if len(raw) < 1 {
		return nil, &er.Err{Context: "Parse", Message: er.ErrShortBuffer}
	}

	result := &ParsedPacket{Type: PacketType(raw[0] & 0xF0), Raw: raw}

	switch result.Type {
	case CONNECT:
		p := &ConnectPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Connect = p
	case PUBLISH:
		p := &PublishPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Publish = p
	case PUBACK:
		p := &PubackPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Puback = p
	case PUBREC:
		p := &PubrecPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Pubrec = p
	case PUBREL:
		p := &PubrelPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Pubrel = p
	case PUBCOMP:
		p := &PubcompPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Pubcomp = p
	case SUBSCRIBE:
		p := &SubscribePacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Subscribe = p
	case UNSUBSCRIBE:
		p := &UnsubscribePacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Unsubscribe = p
	case PINGREQ:
		p := &PingreqPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Pingreq = p
	case DISCONNECT:
		p := &DisconnectPacket{}
		if err := p.Parse(raw); err != nil {
			return nil, err
		}
		result.Disconnect = p
	default:
		return nil, &er.Err{Context: "Parse", Message: er.ErrInvalidPacketType}
	}

	return result, nil
}

// IsConnect reports whether this is a successfully decoded CONNECT.
func (p *ParsedPacket) IsConnect() bool {
	return p.Type == CONNECT && p.Connect != nil
}
