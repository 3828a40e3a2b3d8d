package store

import (
	"testing"

	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePublishForFutureAssignsGUID(t *testing.T) {
	s := NewMemoryStore()
	guid, err := s.StorePublishForFuture(&broker.StoredMessage{ClientID: "c1", Topic: "a/b", QoS: packet.QoSAtLeastOnce})
	require.NoError(t, err)
	assert.NotEmpty(t, guid)

	found, err := s.SearchMatching(func(topic string) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, found, "message isn't retained until StoreRetained is called")
}

func TestStoreRetainedAndSearchMatching(t *testing.T) {
	s := NewMemoryStore()
	guid, err := s.StorePublishForFuture(&broker.StoredMessage{ClientID: "c1", Topic: "a/b", QoS: packet.QoSAtLeastOnce})
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained("a/b", guid))

	found, err := s.SearchMatching(func(topic string) bool { return topic == "a/b" })
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a/b", found[0].Topic)

	found, err = s.SearchMatching(func(topic string) bool { return topic == "x/y" })
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestStoreRetainedUnknownGUIDFails(t *testing.T) {
	s := NewMemoryStore()
	assert.Error(t, s.StoreRetained("a/b", "does-not-exist"))
}

func TestCleanRetainedRemovesEntry(t *testing.T) {
	s := NewMemoryStore()
	guid, err := s.StorePublishForFuture(&broker.StoredMessage{ClientID: "c1", Topic: "a/b"})
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained("a/b", guid))
	require.NoError(t, s.CleanRetained("a/b"))

	found, err := s.SearchMatching(func(topic string) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDropMessagesInSessionKeepsRetained(t *testing.T) {
	s := NewMemoryStore()
	retainedGUID, err := s.StorePublishForFuture(&broker.StoredMessage{ClientID: "c1", Topic: "a/b"})
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained("a/b", retainedGUID))

	_, err = s.StorePublishForFuture(&broker.StoredMessage{ClientID: "c1", Topic: "x/y"})
	require.NoError(t, err)

	require.NoError(t, s.DropMessagesInSession("c1"))

	found, err := s.SearchMatching(func(topic string) bool { return true })
	require.NoError(t, err)
	require.Len(t, found, 1, "retained message must survive session drop")
	assert.Equal(t, "a/b", found[0].Topic)
}

func TestRestoreMessageAndRetainedBypassGUIDAssignment(t *testing.T) {
	s := NewMemoryStore()
	s.RestoreMessage(&broker.StoredMessage{GUID: "fixed-guid", ClientID: "c1", Topic: "a/b", QoS: packet.QoSAtLeastOnce})
	s.RestoreRetained("a/b", "fixed-guid")

	found, err := s.SearchMatching(func(topic string) bool { return topic == "a/b" })
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "fixed-guid", found[0].GUID)
}

func TestCreateNewSessionRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateNewSession("c1", true)
	require.NoError(t, err)

	_, err = s.CreateNewSession("c1", true)
	assert.Error(t, err)
}

func TestSessionForClientRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	_, ok := s.SessionForClient("c1")
	assert.False(t, ok)

	created, err := s.CreateNewSession("c1", false)
	require.NoError(t, err)

	found, ok := s.SessionForClient("c1")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestWipeSubscriptionsClearsSessionSubs(t *testing.T) {
	s := NewMemoryStore()
	session, err := s.CreateNewSession("c1", false)
	require.NoError(t, err)
	session.Subscribe(broker.Subscription{ClientID: "c1", TopicFilter: "a/b", RequestedQoS: packet.QoSAtMostOnce})

	s.WipeSubscriptions("c1")
	assert.Empty(t, session.Subscriptions())

	s.WipeSubscriptions("unknown-client")
}
