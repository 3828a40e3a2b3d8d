package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishEncodeParseRoundTrip(t *testing.T) {
	id := uint16(42)
	original := &PublishPacket{
		QoS:      QoSAtLeastOnce,
		Retain:   true,
		Topic:    "a/b",
		PacketID: &id,
		Payload:  []byte("hello"),
	}

	decoded := &PublishPacket{}
	require.NoError(t, decoded.Parse(original.Encode()))

	assert.Equal(t, original.Topic, decoded.Topic)
	assert.Equal(t, original.QoS, decoded.QoS)
	assert.Equal(t, original.Retain, decoded.Retain)
	require.NotNil(t, decoded.PacketID)
	assert.Equal(t, *original.PacketID, *decoded.PacketID)
	assert.Equal(t, original.Payload, decoded.Payload)
}

func TestPublishQoS0HasNoPacketID(t *testing.T) {
	p := &PublishPacket{QoS: QoSAtMostOnce, Topic: "x", Payload: []byte("v")}
	decoded := &PublishPacket{}
	require.NoError(t, decoded.Parse(p.Encode()))
	assert.Nil(t, decoded.PacketID)
}

func TestPublishRejectsWildcardTopic(t *testing.T) {
	p := &PublishPacket{QoS: QoSAtMostOnce, Topic: "a/+", Payload: []byte("v")}
	decoded := &PublishPacket{}
	err := decoded.Parse(p.Encode())
	assert.Error(t, err)
}

func TestPublishRejectsDupOnQoS0(t *testing.T) {
	raw := []byte{byte(PUBLISH) | 0x08, 0x04, 0x00, 0x01, 'x', 'v'}
	decoded := &PublishPacket{}
	assert.Error(t, decoded.Parse(raw))
}
