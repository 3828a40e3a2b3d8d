package broker

import (
	"testing"

	"github.com/riftmq/broker/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPacketIDSkipsZeroAndInFlight(t *testing.T) {
	s := NewClientSession("c1", true)
	s.nextID = 65534

	first := s.NextPacketID()
	assert.Equal(t, uint16(65535), first)

	second := s.NextPacketID()
	assert.Equal(t, uint16(1), second, "must skip 0 on wraparound")

	s.RecordInflight(2, &StoredMessage{})
	third := s.NextPacketID()
	assert.Equal(t, uint16(3), third, "must skip an id already inflight")
}

func TestStoredMessagesReturnsEnqueuedAndInflight(t *testing.T) {
	s := NewClientSession("c1", false)
	s.Enqueue(&StoredMessage{GUID: "g1", Topic: "a"})
	s.RecordInflight(7, &StoredMessage{GUID: "g2", Topic: "b"})

	msgs := s.StoredMessages()
	assert.Len(t, msgs, 2)
}

func TestMoveInFlightToSecondPhaseAckWaiting(t *testing.T) {
	s := NewClientSession("c1", false)
	msg := &StoredMessage{GUID: "g1", Topic: "a", QoS: packet.QoSExactlyOnce}
	s.RecordInflight(5, msg)

	moved, err := s.MoveInFlightToSecondPhaseAckWaiting(5)
	require.NoError(t, err)
	assert.Equal(t, msg, moved)

	_, stillInflight := s.GetInflightMessage(5)
	assert.False(t, stillInflight)

	s.SecondPhaseAcknowledged(5)
	_, err = s.MoveInFlightToSecondPhaseAckWaiting(5)
	assert.Error(t, err, "pid no longer tracked anywhere after PUBCOMP")
}

func TestCleanSessionStateWipesEverything(t *testing.T) {
	s := NewClientSession("c1", true)
	s.Subscribe(Subscription{ClientID: "c1", TopicFilter: "a/b"})
	s.Enqueue(&StoredMessage{GUID: "g1"})
	s.RecordInflight(1, &StoredMessage{GUID: "g2"})

	s.CleanSessionState()

	assert.Empty(t, s.Subscriptions())
	assert.Empty(t, s.StoredMessages())
}
