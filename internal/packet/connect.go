package packet

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/riftmq/broker/pkg/er"
)

// ConnectPacket is the decoded CONNECT variable header and payload.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel byte // 3 = MQTT 3.1 ("MQIsdp"), 4 = MQTT 3.1.1 ("MQTT")
	UsernameFlag  bool
	PasswordFlag  bool
	WillRetain    bool
	WillQoS       QoSLevel
	WillFlag      bool
	CleanSession  bool
	KeepAlive     uint16

	ClientID    string
	WillTopic   *string
	WillMessage *string
	Username    *string
	Password    *string

	Raw []byte
}

func (cp *ConnectPacket) Parse(raw []byte) error {
	if len(raw) < 10 {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	if PacketType(raw[0]&0xF0) != CONNECT {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	cp.Raw = raw

	remainingLength, lenOffset, err := parseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	offset := 1 + lenOffset
	if len(raw) != offset+remainingLength {
		return &er.Err{Context: "Connect, Packet Length", Message: er.ErrInvalidPacketLength}
	}

	protocolName, n, err := parseString(raw[offset:])
	if err != nil {
		return &er.Err{Context: "Connect, ProtocolName", Message: er.ErrReadProtoName}
	}
	cp.ProtocolName = protocolName
	offset += n

	if cp.ProtocolName != "MQTT" && cp.ProtocolName != "MQIsdp" {
		return &er.Err{Context: "Connect, ProtocolName", Message: er.ErrUnsupportedProtocolName}
	}

	if offset >= len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrMissProtoLevel}
	}
	cp.ProtocolLevel = raw[offset]
	offset++
	if cp.ProtocolLevel != 3 && cp.ProtocolLevel != 4 {
		return &er.Err{Context: "Connect, ProtocolLevel", Message: er.ErrUnsupportedProtocolLevel}
	}

	if offset >= len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrMissConnFlags}
	}
	flags := raw[offset]
	offset++

	cp.UsernameFlag = flags&0x80 != 0
	cp.PasswordFlag = flags&0x40 != 0
	cp.WillRetain = flags&0x20 != 0
	cp.WillQoS = QoSLevel((flags & 0x18) >> 3)
	cp.WillFlag = flags&0x04 != 0
	cp.CleanSession = flags&0x02 != 0

	if cp.WillFlag && cp.WillQoS > QoSExactlyOnce {
		return &er.Err{Context: "Connect, WillQos", Message: er.ErrInvalidWillQos}
	}

	if offset+2 > len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrMissKeepAlive}
	}
	cp.KeepAlive = binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2

	clientID, n, err := parseString(raw[offset:])
	if err != nil {
		return &er.Err{Context: "Connect, ClientID", Message: er.ErrReadClientID}
	}
	cp.ClientID = clientID
	offset += n

	if cErr := cp.ValidateClientID(); cErr != nil {
		switch {
		case errors.Is(cErr, er.ErrEmptyClientID):
			// Server assigns an identity later (broker policy decides
			// whether a zero-byte id is even permitted); Parse itself
			// never invents one.
		case errors.Is(cErr, er.ErrEmptyAndCleanSessionClientID):
			return &er.Err{Context: "Connect, ClientID", Message: er.ErrIdentifierRejected}
		default:
			return cErr
		}
	}

	if cp.WillFlag {
		willTopic, n, err := parseString(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Connect, WillTopic", Message: er.ErrInvalidConnPacket}
		}
		cp.WillTopic = stringPtr(willTopic)
		offset += n

		willMessage, n, err := parseString(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Connect, WillMessage", Message: er.ErrInvalidConnPacket}
		}
		cp.WillMessage = stringPtr(willMessage)
		offset += n
	}

	if !cp.UsernameFlag && cp.PasswordFlag {
		return &er.Err{Context: "Connect, UsernameFlag+PasswordFlag", Message: er.ErrPasswordWithoutUsername}
	}

	if cp.UsernameFlag {
		username, n, err := parseString(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Connect, Username", Message: er.ErrMalformedUsernameField}
		}
		cp.Username = stringPtr(username)
		offset += n
	}

	if cp.PasswordFlag {
		password, n, err := parseString(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Connect, Password", Message: er.ErrMalformedPasswordField}
		}
		cp.Password = stringPtr(password)
		offset += n
	}

	return nil
}

// ValidateClientID checks length and charset constraints. An empty client
// id is reported via a sentinel the caller interprets according to policy
// (server-assigned id vs. rejection) rather than rejected outright here.
func (cp *ConnectPacket) ValidateClientID() error {
	if len(cp.ClientID) == 0 {
		if !cp.CleanSession {
			return &er.Err{Context: "Connect, ClientID", Message: er.ErrEmptyAndCleanSessionClientID}
		}
		return &er.Err{Context: "Connect, ClientID", Message: er.ErrEmptyClientID}
	}
	if len(cp.ClientID) > 23 {
		return &er.Err{Context: "Connect, ClientID", Message: er.ErrClientIDLengthExceed}
	}
	const allowed = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for _, c := range cp.ClientID {
		if !strings.ContainsRune(allowed, c) {
			return &er.Err{Context: "Connect, ClientID", Message: er.ErrInvalidCharsClientID}
		}
	}
	return nil
}
