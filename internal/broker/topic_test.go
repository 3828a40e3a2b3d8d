package broker

import (
	"testing"

	"github.com/riftmq/broker/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatcherExactAndWildcards(t *testing.T) {
	m := NewTopicMatcher()
	require.NoError(t, m.Add(Subscription{ClientID: "c1", TopicFilter: "a/b", RequestedQoS: packet.QoSAtMostOnce}))
	require.NoError(t, m.Add(Subscription{ClientID: "c2", TopicFilter: "a/+", RequestedQoS: packet.QoSAtLeastOnce}))
	require.NoError(t, m.Add(Subscription{ClientID: "c3", TopicFilter: "a/#", RequestedQoS: packet.QoSExactlyOnce}))

	subs := m.Match("a/b")
	ids := map[string]bool{}
	for _, s := range subs {
		ids[s.ClientID] = true
	}
	assert.True(t, ids["c1"])
	assert.True(t, ids["c2"])
	assert.True(t, ids["c3"])
	assert.Len(t, subs, 3)

	subs = m.Match("a/b/c")
	assert.Len(t, subs, 1)
	assert.Equal(t, "c3", subs[0].ClientID)
}

func TestTopicMatcherMultiLevelMustBeTerminal(t *testing.T) {
	assert.Error(t, ValidateFilter("a/#/b"))
	assert.NoError(t, ValidateFilter("a/#"))
	assert.NoError(t, ValidateFilter("#"))
}

func TestTopicMatcherSingleLevelMustOccupyWholeLevel(t *testing.T) {
	assert.Error(t, ValidateFilter("a+"))
	assert.NoError(t, ValidateFilter("a/+/c"))
}

func TestTopicMatcherRemovePrunesEmptyBranches(t *testing.T) {
	m := NewTopicMatcher()
	require.NoError(t, m.Add(Subscription{ClientID: "c1", TopicFilter: "x/y/z", RequestedQoS: packet.QoSAtMostOnce}))

	require.NoError(t, m.Remove("x/y/z", "c1"))
	assert.Empty(t, m.Match("x/y/z"))

	m.mu.RLock()
	_, hasX := m.root.children["x"]
	m.mu.RUnlock()
	assert.False(t, hasX, "empty branch should be pruned after the last subscriber leaves")
}

func TestTopicMatcherUnsubscribeAll(t *testing.T) {
	m := NewTopicMatcher()
	require.NoError(t, m.Add(Subscription{ClientID: "c1", TopicFilter: "a/b", RequestedQoS: packet.QoSAtMostOnce}))
	require.NoError(t, m.Add(Subscription{ClientID: "c1", TopicFilter: "c/d", RequestedQoS: packet.QoSAtMostOnce}))
	require.NoError(t, m.Add(Subscription{ClientID: "c2", TopicFilter: "a/b", RequestedQoS: packet.QoSAtMostOnce}))

	m.UnsubscribeAll("c1")

	assert.Empty(t, m.GetSubscriptions("c1"))
	subs := m.Match("a/b")
	require.Len(t, subs, 1)
	assert.Equal(t, "c2", subs[0].ClientID)
}

func TestValidateTopicNameRejectsWildcards(t *testing.T) {
	assert.Error(t, ValidateTopicName("a/+/b"))
	assert.Error(t, ValidateTopicName("a/#"))
	assert.NoError(t, ValidateTopicName("a/b/c"))
}
