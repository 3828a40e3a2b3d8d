package broker

import "github.com/riftmq/broker/internal/packet"

// Publisher fans a published message out to matched subscriptions and
// republishes stored/retained messages on (re)connect and subscribe (C6,
// spec.md §4.6). It depends only on SessionStore and ConnectionRegistry,
// never on transport or codec concerns beyond the already-decoded
// StoredMessage.
type Publisher struct {
	sessions *ConnectionRegistry
	store    SessionStore
}

// NewPublisher constructs a Publisher over the given registry and session
// store.
func NewPublisher(registry *ConnectionRegistry, store SessionStore) *Publisher {
	return &Publisher{sessions: registry, store: store}
}

// Publish2Subscribers groups subs by clientID (keeping the max requested
// QoS per client), computes the effective QoS per recipient, and either
// writes immediately (QoS0) or records inflight and writes/enqueues
// (QoS>=1) (spec.md §4.6 steps 1-4).
func (p *Publisher) Publish2Subscribers(msg *StoredMessage, subs []Subscription) {
	best := make(map[string]packet.QoSLevel, len(subs))
	for _, s := range subs {
		if cur, ok := best[s.ClientID]; !ok || s.RequestedQoS > cur {
			best[s.ClientID] = s.RequestedQoS
		}
	}

	for clientID, requestedQoS := range best {
		effective := minQoS(msg.QoS, requestedQoS)
		p.deliverToClient(clientID, msg, effective)
	}
}

// deliverToClient implements spec.md §4.6 steps 3-4 for a single recipient.
func (p *Publisher) deliverToClient(clientID string, msg *StoredMessage, effective packet.QoSLevel) {
	session, ok := p.store.SessionForClient(clientID)
	if !ok {
		return
	}

	out := msg.Clone()
	out.QoS = effective

	if effective == packet.QoSAtMostOnce {
		p.writeOrDrop(clientID, session, out)
		return
	}

	pid := session.NextPacketID()
	out.PacketID = &pid
	session.RecordInflight(pid, out)
	p.writeOrEnqueue(clientID, session, out)
}

// writeOrDrop sends a QoS0 publish if the recipient is connected and
// writable; otherwise the message is simply not delivered (QoS0 has no
// delivery guarantee).
func (p *Publisher) writeOrDrop(clientID string, session *ClientSession, msg *StoredMessage) {
	desc, ok := p.sessions.Get(clientID)
	if !ok || !desc.Channel.Writable() {
		return
	}
	_ = desc.Channel.Write(encodePublish(msg))
}

// writeOrEnqueue attempts immediate delivery; if the recipient has no
// active connection or its channel is not writable, the message is
// enqueued on the session for delivery on reconnect or a writable event
// (spec.md §4.6 step 4, §5 suspension rules).
func (p *Publisher) writeOrEnqueue(clientID string, session *ClientSession, msg *StoredMessage) {
	desc, ok := p.sessions.Get(clientID)
	if !ok || !desc.Channel.Writable() {
		session.Enqueue(msg)
		return
	}
	if err := desc.Channel.Write(encodePublish(msg)); err != nil {
		session.Enqueue(msg)
	}
}

// PublishStored replays a session's stored QoS1/QoS2 messages on reconnect
// with cleanSession=false, in original order (spec.md §4.6 publishStored).
// The caller (director, §4.7 step 9) is responsible for removing each
// entry from enqueued by guid once dequeued.
func (p *Publisher) PublishStored(clientID string, session *ClientSession) {
	desc, ok := p.sessions.Get(clientID)
	if !ok {
		return
	}
	for _, msg := range session.StoredMessages() {
		if desc.Channel.Writable() {
			_ = desc.Channel.Write(encodePublish(msg))
		}
	}
}

// PublishRetained delivers each retained StoredMessage matching a new
// subscription at min(stored.qos, subscription.qos), going through the
// inflight path when effective QoS >= 1 (spec.md §4.6 publishRetained,
// §4.8 SUBSCRIBE step "replay retained matches").
func (p *Publisher) PublishRetained(clientID string, sub Subscription, retained []*StoredMessage) {
	session, ok := p.store.SessionForClient(clientID)
	if !ok {
		return
	}
	for _, msg := range retained {
		effective := minQoS(msg.QoS, sub.RequestedQoS)
		out := msg.Clone()
		out.QoS = effective
		if effective == packet.QoSAtMostOnce {
			p.writeOrDrop(clientID, session, out)
			continue
		}
		pid := session.NextPacketID()
		out.PacketID = &pid
		session.RecordInflight(pid, out)
		p.writeOrEnqueue(clientID, session, out)
	}
}

// encodePublish turns a StoredMessage back into wire bytes for delivery.
func encodePublish(msg *StoredMessage) []byte {
	pp := &packet.PublishPacket{
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		QoS:      msg.QoS,
		Retain:   msg.Retained,
		PacketID: msg.PacketID,
	}
	return pp.Encode()
}
