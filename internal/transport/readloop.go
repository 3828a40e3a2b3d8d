package transport

import (
	"bufio"
	"errors"
	"io"

	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/internal/logger"
	"github.com/riftmq/broker/internal/packet"
	"github.com/riftmq/broker/pkg/er"
)

// readPacket reads one MQTT control packet off r: the fixed header byte,
// the variable-length Remaining Length field (1-4 bytes, continuation
// bit 0x80), then exactly that many more bytes (spec.md §4.11, grounded
// on the teacher's byte-by-byte fixed-header reader).
func readPacket(r *bufio.Reader) ([]byte, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	var lenBytes []byte
	remaining, multiplier := 0, 1
	for {
		if len(lenBytes) >= 4 {
			return nil, &er.Err{Context: "transport, readPacket", Message: er.ErrRemainingLengthExceeded}
		}
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		lenBytes = append(lenBytes, b)
		remaining += int(b&0x7F) * multiplier
		multiplier *= 128
		if b&0x80 == 0 {
			break
		}
	}
	if remaining > packet.MaxPayloadSize {
		return nil, &er.Err{Context: "transport, readPacket", Message: er.ErrRemainingLengthExceeded}
	}

	raw := make([]byte, 1+len(lenBytes)+remaining)
	raw[0] = first
	copy(raw[1:1+len(lenBytes)], lenBytes)
	if _, err := io.ReadFull(r, raw[1+len(lenBytes):]); err != nil {
		return nil, err
	}
	return raw, nil
}

// serveChannel runs one connection's full life cycle: the first packet
// must be CONNECT (spec.md §4.7), after which every further decoded
// packet is handed to director.Handle until the read loop ends or the
// director reports a protocol violation.
func serveChannel(channel *frameChannel, r *bufio.Reader, director *broker.Director, log *logger.Logger) {
	defer channel.Abort()

	raw, err := readPacket(r)
	if err != nil {
		return
	}
	pp, err := packet.Parse(raw)
	if err != nil || !pp.IsConnect() {
		rc := packet.UnacceptableProtocolVersion
		if errors.Is(err, er.ErrIdentifierRejected) {
			rc = packet.IdentifierRejected
		}
		_ = channel.Write(packet.NewConnAck(false, rc))
		return
	}
	desc := director.HandleConnect(channel, pp.Connect)
	if desc == nil {
		return
	}
	log.LogClientConnection(desc.ClientID, channel.RemoteAddr(), "connected")

	for {
		raw, err := readPacket(r)
		if err != nil {
			director.ConnectionLost(desc.ClientID, desc)
			return
		}
		parsed, err := packet.Parse(raw)
		if err != nil {
			log.LogError(err, "malformed packet, dropping connection", logger.ClientID(desc.ClientID))
			director.ConnectionLost(desc.ClientID, desc)
			return
		}
		log.LogMQTTPacket(parsed.Type.String(), desc.ClientID, "inbound")
		if !director.Handle(desc, parsed) {
			return
		}
		if parsed.Type == packet.DISCONNECT {
			return
		}
	}
}
