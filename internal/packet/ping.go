package packet

import "github.com/riftmq/broker/pkg/er"

type PingreqPacket struct{ Raw []byte }
type PingrespPacket struct{}

func (pp *PingreqPacket) Parse(raw []byte) error {
	if len(raw) != 2 {
		return &er.Err{Context: "Pingreq", Message: er.ErrInvalidPacketLength}
	}
	if PacketType(raw[0]&0xF0) != PINGREQ {
		return &er.Err{Context: "Pingreq", Message: er.ErrInvalidPingreqPacket}
	}
	if raw[0]&0x0F != 0x00 {
		return &er.Err{Context: "Pingreq, Fixed Header", Message: er.ErrInvalidPingreqFlags}
	}
	if raw[1] != 0x00 {
		return &er.Err{Context: "Pingreq, Remaining Length", Message: er.ErrInvalidPingreqLength}
	}
	pp.Raw = raw
	return nil
}

func (pp *PingrespPacket) Parse(raw []byte) error {
	if len(raw) != 2 {
		return &er.Err{Context: "Pingresp", Message: er.ErrInvalidPacketLength}
	}
	if PacketType(raw[0]&0xF0) != PINGRESP {
		return &er.Err{Context: "Pingresp", Message: er.ErrInvalidPingrespPacket}
	}
	if raw[0]&0x0F != 0x00 {
		return &er.Err{Context: "Pingresp, Fixed Header", Message: er.ErrInvalidPingrespFlags}
	}
	if raw[1] != 0x00 {
		return &er.Err{Context: "Pingresp, Remaining Length", Message: er.ErrInvalidPingrespLength}
	}
	return nil
}

// CreatePingresp builds a PINGRESP packet in response to a PINGREQ.
func CreatePingresp() *PingrespPacket { return &PingrespPacket{} }

func (p *PingrespPacket) Encode() []byte { return []byte{byte(PINGRESP), 0x00} }
