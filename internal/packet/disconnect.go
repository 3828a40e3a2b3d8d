package packet

import "github.com/riftmq/broker/pkg/er"

type DisconnectPacket struct{}

func (dp *DisconnectPacket) Parse(raw []byte) error {
	if len(raw) != 2 {
		return &er.Err{Context: "Disconnect", Message: er.ErrInvalidDisconnectPacket}
	}
	if PacketType(raw[0]&0xF0) != DISCONNECT {
		return &er.Err{Context: "Disconnect, Control", Message: er.ErrInvalidDisconnectPacket}
	}
	if raw[1] != 0x00 {
		return &er.Err{Context: "Disconnect, Remaining Length", Message: er.ErrInvalidDisconnectPacket}
	}
	return nil
}
