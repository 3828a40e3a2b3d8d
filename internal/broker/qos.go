package broker

import (
	"sync"

	"github.com/riftmq/broker/internal/packet"
)

// qos2Inflight tracks, per connected client, the packetID -> stored
// message mapping for QoS2 publishes still awaiting PUBREL ("QoS2
// receiving" map, spec.md §4.5). It is scoped to the director, not to a
// connection: an entry is removed only by take, on PUBREL, and a client's
// entries are kept when its connection ends.
type qos2Inflight struct {
	mu   sync.Mutex
	recv map[string]map[uint16]*StoredMessage // clientID -> packetID -> message
}

func newQoS2Inflight() *qos2Inflight {
	return &qos2Inflight{recv: make(map[string]map[uint16]*StoredMessage)}
}

func (q *qos2Inflight) put(clientID string, pid uint16, msg *StoredMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recv[clientID] == nil {
		q.recv[clientID] = make(map[uint16]*StoredMessage)
	}
	q.recv[clientID][pid] = msg
}

func (q *qos2Inflight) peek(clientID string, pid uint16) (*StoredMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.recv[clientID]
	if m == nil {
		return nil, false
	}
	msg, ok := m[pid]
	return msg, ok
}

func (q *qos2Inflight) take(clientID string, pid uint16) (*StoredMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.recv[clientID]
	if m == nil {
		return nil, false
	}
	msg, ok := m[pid]
	if ok {
		delete(m, pid)
	}
	return msg, ok
}

func (q *qos2Inflight) clear(clientID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.recv, clientID)
}

// handleRetain applies spec.md §4.5's shared retained-message rule: empty
// payload clears retained for the topic; non-empty payload stores the
// message and sets its guid as the retained pointer, reusing guid if the
// message was already stored for QoS>=1 delivery.
func handleRetain(store MessageStore, msg *StoredMessage, guid string) error {
	if !msg.Retained {
		return nil
	}
	if len(msg.Payload) == 0 {
		return store.CleanRetained(msg.Topic)
	}
	if guid == "" {
		var err error
		guid, err = store.StorePublishForFuture(msg)
		if err != nil {
			return err
		}
	}
	return store.StoreRetained(msg.Topic, guid)
}

// handlePublishQoS0 implements spec.md §4.5 "QoS 0 (at most once)".
func (d *Director) handlePublishQoS0(clientID, username string, msg *StoredMessage, matches []Subscription) {
	if !d.authz.CanWrite(msg.Topic, username, clientID) {
		return
	}
	if msg.Retained {
		_ = handleRetain(d.messages, msg, "")
	}
	d.publisher.Publish2Subscribers(msg, matches)
}

// handlePublishQoS1 implements spec.md §4.5 "QoS 1 (at least once)": store,
// fan out, then PUBACK to the publisher.
func (d *Director) handlePublishQoS1(clientID, username string, msg *StoredMessage, matches []Subscription, pid uint16) error {
	if !d.authz.CanWrite(msg.Topic, username, clientID) {
		return nil
	}
	guid, err := d.messages.StorePublishForFuture(msg)
	if err != nil {
		return err
	}
	msg.GUID = guid
	d.publisher.Publish2Subscribers(msg, matches)
	if msg.Retained {
		_ = handleRetain(d.messages, msg, guid)
	}
	return d.writeToSender(clientID, encodeAckPacket(packet.PUBACK, pid))
}

// handlePublishQoS2Receive implements spec.md §4.5 "QoS 2 (exactly once)"
// up to PUBREC: store with a guid, remember (packetID -> guid), send
// PUBREC. Idempotent for DUP retransmissions of the same packetID (S6).
func (d *Director) handlePublishQoS2Receive(clientID, username string, msg *StoredMessage, pid uint16, dup bool) error {
	if dup {
		if _, already := d.qos2.peek(clientID, pid); already {
			return d.writeToSender(clientID, encodeAckPacket(packet.PUBREC, pid))
		}
	}
	if !d.authz.CanWrite(msg.Topic, username, clientID) {
		return nil
	}
	guid, err := d.messages.StorePublishForFuture(msg)
	if err != nil {
		return err
	}
	msg.GUID = guid
	d.qos2.put(clientID, pid, msg)
	return d.writeToSender(clientID, encodeAckPacket(packet.PUBREC, pid))
}

func encodeAckPacket(t packet.PacketType, pid uint16) []byte {
	switch t {
	case packet.PUBACK:
		return packet.NewPubAck(pid)
	case packet.PUBREC:
		return packet.NewPubRec(pid)
	case packet.PUBREL:
		return packet.NewPubRel(pid)
	case packet.PUBCOMP:
		return packet.NewPubComp(pid)
	}
	return nil
}
