// Package broker implements the MQTT protocol engine: session and topic
// state, the three QoS delivery contracts, and the top-level CONNECT /
// PUBLISH / SUBSCRIBE / UNSUBSCRIBE / disconnect state machine (spec.md
// §2-§9). It talks to the network only through the Channel interface and
// never imports net, os, or a config format directly.
package broker

import "github.com/riftmq/broker/internal/packet"

// Subscription is (clientID, topicFilter, requestedQoS); identity is the
// (clientID, topicFilter) pair (spec.md §3).
type Subscription struct {
	ClientID     string
	TopicFilter  string
	RequestedQoS packet.QoSLevel
}

// StoredMessage is a PUBLISH the broker has taken custody of: persisted
// for QoS>=1 delivery or retained for future subscribers (spec.md §3).
type StoredMessage struct {
	GUID      string
	ClientID  string // publisher
	Topic     string
	Payload   []byte
	QoS       packet.QoSLevel
	Retained  bool
	PacketID  *uint16 // assigned per-recipient by the session store
}

// Clone returns a shallow copy safe to assign a different PacketID to
// without mutating the original (a single StoredMessage guid is fanned
// out to many recipients, each needing its own packet id).
func (m *StoredMessage) Clone() *StoredMessage {
	cp := *m
	cp.PacketID = nil
	return &cp
}

// WillMessage is the publish a client authorizes the broker to issue on
// its behalf upon an ungraceful disconnect (spec.md §3, Design Notes).
type WillMessage struct {
	ClientID string
	Topic    string
	Payload  []byte
	QoS      packet.QoSLevel
	Retained bool
}

func minQoS(a, b packet.QoSLevel) packet.QoSLevel {
	if a < b {
		return a
	}
	return b
}
