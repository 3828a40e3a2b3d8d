package packet

import (
	"encoding/binary"

	"github.com/riftmq/broker/pkg/er"
)

// SUBACK return codes.
const (
	SubackMaxQoS0 byte = 0x00
	SubackMaxQoS1 byte = 0x01
	SubackMaxQoS2 byte = 0x02
	SubackFailure byte = 0x80
)

type SubscribeFilter struct {
	Topic string
	QoS   QoSLevel
}

type SubscribePacket struct {
	PacketID uint16
	Filters  []SubscribeFilter
	Raw      []byte
}

func (sp *SubscribePacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}
	if PacketType(raw[0]&0xF0) != SUBSCRIBE {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}
	if raw[0]&0x0F != 0x02 {
		return &er.Err{Context: "Subscribe, Fixed Header", Message: er.ErrInvalidSubscribeFlags}
	}
	sp.Raw = raw

	remainingLength, lenOffset, err := parseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	offset := 1 + lenOffset
	if len(raw) != offset+remainingLength {
		return &er.Err{Context: "Subscribe, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	if remainingLength < 6 {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}

	if offset+2 > len(raw) {
		return &er.Err{Context: "Subscribe, PacketID", Message: er.ErrMissingPacketID}
	}
	sp.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	if sp.PacketID == 0 {
		return &er.Err{Context: "Subscribe, PacketID", Message: er.ErrInvalidPacketID}
	}
	offset += 2

	sp.Filters = make([]SubscribeFilter, 0, 1)
	for offset < len(raw) {
		topic, n, err := parseString(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Subscribe, Topic Filter", Message: er.ErrInvalidSubscribePacket}
		}
		offset += n

		// Filter validity is checked by Director.HandleSubscribe, not here:
		// an invalid SUBSCRIBE filter yields a per-filter SUBACK failure
		// code, not a torn-down connection (spec.md §7, §4.8).
		if offset >= len(raw) {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrMissingQoSByte}
		}
		qosByte := raw[offset]
		if qosByte&0xFC != 0 {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSReservedBits}
		}
		qos := QoSLevel(qosByte & 0x03)
		if qos > QoSExactlyOnce {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSLevel}
		}
		offset++

		sp.Filters = append(sp.Filters, SubscribeFilter{Topic: topic, QoS: qos})
	}

	if len(sp.Filters) == 0 {
		return &er.Err{Context: "Subscribe", Message: er.ErrNoTopicFilters}
	}
	return nil
}

// SubackPacket is the broker's reply to a SUBSCRIBE: one return code (or
// failure) per requested filter, in request order.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

func (p *SubackPacket) Encode() []byte {
	remainingLength := 2 + len(p.ReturnCodes)
	out := make([]byte, 0, 2+4+len(p.ReturnCodes))
	out = append(out, byte(SUBACK))
	out = append(out, encodeRemainingLength(remainingLength)...)
	out = append(out, encodePacketID(p.PacketID)...)
	out = append(out, p.ReturnCodes...)
	return out
}

func (p *SubackPacket) Parse(raw []byte) error {
	if len(raw) < 4 {
		return &er.Err{Context: "Suback", Message: er.ErrShortBuffer}
	}
	if PacketType(raw[0]&0xF0) != SUBACK {
		return &er.Err{Context: "Suback", Message: er.ErrInvalidPacketType}
	}
	remainingLength, lenOffset, err := parseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	offset := 1 + lenOffset
	if len(raw) != offset+remainingLength {
		return &er.Err{Context: "Suback", Message: er.ErrInvalidPacketLength}
	}
	p.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	p.ReturnCodes = make([]byte, remainingLength-2)
	copy(p.ReturnCodes, raw[offset+2:])
	return nil
}

// QoSForSuback maps a granted QoS to its SUBACK return code.
func QoSForSuback(qos QoSLevel) byte {
	switch qos {
	case QoSAtMostOnce:
		return SubackMaxQoS0
	case QoSAtLeastOnce:
		return SubackMaxQoS1
	case QoSExactlyOnce:
		return SubackMaxQoS2
	default:
		return SubackFailure
	}
}
