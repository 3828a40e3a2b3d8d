package packet

import "github.com/riftmq/broker/pkg/er"

// CONNACK return codes (spec.md §6).
const (
	ConnectionAccepted          byte = 0x00
	UnacceptableProtocolVersion byte = 0x01
	IdentifierRejected          byte = 0x02
	ServerUnavailable           byte = 0x03
	BadUsernameOrPassword       byte = 0x04
	NotAuthorized               byte = 0x05
)

// NewConnAck encodes a CONNACK packet.
func NewConnAck(sessionPresent bool, returnCode byte) []byte {
	flags := byte(0x00)
	if sessionPresent && returnCode == ConnectionAccepted {
		flags = 0x01
	}
	return []byte{byte(CONNACK), 0x02, flags, returnCode}
}

// ConnackPacket is the decoded form, used by tests and any loop-back checks.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     byte
}

func (p *ConnackPacket) Parse(raw []byte) error {
	if len(raw) != 4 {
		return &er.Err{Context: "Connack", Message: er.ErrInvalidPacketLength}
	}
	if PacketType(raw[0]&0xF0) != CONNACK {
		return &er.Err{Context: "Connack", Message: er.ErrInvalidPacketType}
	}
	p.SessionPresent = raw[2]&0x01 != 0
	p.ReturnCode = raw[3]
	return nil
}
