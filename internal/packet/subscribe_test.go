package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSubscribe(packetID uint16, filters []SubscribeFilter) []byte {
	var payload []byte
	payload = append(payload, encodePacketID(packetID)...)
	for _, f := range filters {
		payload = append(payload, encodeString(f.Topic)...)
		payload = append(payload, byte(f.QoS))
	}
	out := []byte{byte(SUBSCRIBE) | 0x02}
	out = append(out, encodeRemainingLength(len(payload))...)
	out = append(out, payload...)
	return out
}

func TestSubscribeParseMultipleFilters(t *testing.T) {
	raw := encodeSubscribe(7, []SubscribeFilter{
		{Topic: "a/+", QoS: QoSAtLeastOnce},
		{Topic: "a/#", QoS: QoSExactlyOnce},
	})

	sp := &SubscribePacket{}
	require.NoError(t, sp.Parse(raw))
	assert.Equal(t, uint16(7), sp.PacketID)
	require.Len(t, sp.Filters, 2)
	assert.Equal(t, "a/+", sp.Filters[0].Topic)
	assert.Equal(t, QoSExactlyOnce, sp.Filters[1].QoS)
}

func TestSubscribeParseDoesNotValidateFilterContent(t *testing.T) {
	// A malformed filter (here, a misplaced multi-level wildcard) must
	// still decode: filter validity is the director's job, reported
	// per-filter as a SUBACK failure code, not a parse-time rejection
	// that would tear down the connection (spec.md §7, §4.8).
	raw := encodeSubscribe(1, []SubscribeFilter{{Topic: "a/#/b", QoS: QoSAtMostOnce}})
	sp := &SubscribePacket{}
	require.NoError(t, sp.Parse(raw))
	require.Len(t, sp.Filters, 1)
	assert.Equal(t, "a/#/b", sp.Filters[0].Topic)
}

func TestSubackEncodesReturnCodesInOrder(t *testing.T) {
	suback := &SubackPacket{PacketID: 7, ReturnCodes: []byte{SubackMaxQoS1, SubackFailure}}
	decoded := &SubackPacket{}
	require.NoError(t, decoded.Parse(suback.Encode()))
	assert.Equal(t, uint16(7), decoded.PacketID)
	assert.Equal(t, []byte{SubackMaxQoS1, SubackFailure}, decoded.ReturnCodes)
}
