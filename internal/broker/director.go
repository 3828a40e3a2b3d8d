package broker

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riftmq/broker/internal/packet"
	"github.com/riftmq/broker/pkg/er"
)

// AutoFlushInterval is the default auto-flush period (spec.md §5, §4.7
// step 9).
const AutoFlushInterval = 500 * time.Millisecond

// Director is the top-level dispatch (C7): CONNECT, PUBLISH, SUBSCRIBE,
// UNSUBSCRIBE, PUBACK/REC/REL/COMP, DISCONNECT and connection-lost
// (spec.md §4.7-§4.9). It consults the registry for connection identity,
// the session store for session state, the topic matcher for
// subscription matches, the message store for persistence, and invokes
// the publisher for fan-out. It never touches net, os or a config format.
type Director struct {
	registry *ConnectionRegistry
	sessions SessionStore
	messages MessageStore
	topics   *TopicMatcher
	wills    *WillStore
	auth     Authenticator
	authz    Authorizer
	bus      *InterceptorBus
	publisher *Publisher

	allowAnonymous        bool
	allowZeroByteClientID bool

	qos2        *qos2Inflight
	subscribing *subscribeGuard
}

// Config carries the policy knobs the director needs beyond its
// collaborators (spec.md §6, §4.7 step 2/3).
type Config struct {
	AllowAnonymous        bool
	AllowZeroByteClientID bool
}

// New wires every collaborator into a Director (C7's constructor
// injection boundary, spec.md §1: the engine depends only on interfaces).
func New(registry *ConnectionRegistry, sessions SessionStore, messages MessageStore, topics *TopicMatcher, wills *WillStore, authn Authenticator, authz Authorizer, bus *InterceptorBus, cfg Config) *Director {
	d := &Director{
		registry:              registry,
		sessions:               sessions,
		messages:               messages,
		topics:                 topics,
		wills:                  wills,
		auth:                   authn,
		authz:                  authz,
		bus:                    bus,
		allowAnonymous:         cfg.AllowAnonymous,
		allowZeroByteClientID:  cfg.AllowZeroByteClientID,
		qos2:                   newQoS2Inflight(),
		subscribing:            newSubscribeGuard(),
	}
	d.publisher = NewPublisher(registry, sessions)
	return d
}

// writeToSender writes data to the currently registered channel for
// clientID, if any.
func (d *Director) writeToSender(clientID string, data []byte) error {
	desc, ok := d.registry.Get(clientID)
	if !ok {
		return nil
	}
	return desc.Channel.Write(data)
}

// HandleConnect runs the CONNECT state machine (spec.md §4.7, steps 1-10).
// It returns the established descriptor on success. Each CAS failure or
// fail-closed condition aborts the channel and returns nil, whether or not
// a descriptor had already been registered.
func (d *Director) HandleConnect(ch Channel, cp *packet.ConnectPacket) *ConnectionDescriptor {
	// Step 1: protocol version.
	if cp.ProtocolLevel != 3 && cp.ProtocolLevel != 4 {
		_ = ch.Write(packet.NewConnAck(false, packet.UnacceptableProtocolVersion))
		ch.Abort()
		return nil
	}

	// Step 2: clientID.
	clientID := cp.ClientID
	if clientID == "" {
		if !cp.CleanSession || !d.allowZeroByteClientID {
			_ = ch.Write(packet.NewConnAck(false, packet.IdentifierRejected))
			ch.Abort()
			return nil
		}
		clientID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	// Step 3: authenticate.
	username := ""
	if cp.Username != nil {
		username = *cp.Username
	}
	if cp.UsernameFlag {
		if cp.PasswordFlag && cp.Password == nil {
			_ = ch.Write(packet.NewConnAck(false, packet.BadUsernameOrPassword))
			ch.Abort()
			return nil
		}
		var pw []byte
		if cp.Password != nil {
			pw = []byte(*cp.Password)
		}
		if !d.auth.CheckValid(clientID, username, pw) {
			_ = ch.Write(packet.NewConnAck(false, packet.BadUsernameOrPassword))
			ch.Abort()
			return nil
		}
	} else if !d.allowAnonymous {
		_ = ch.Write(packet.NewConnAck(false, packet.NotAuthorized))
		ch.Abort()
		return nil
	}

	// Step 4: register descriptor. A displaced predecessor has already been
	// aborted and marked reconnecting by PutIfAbsent; this connection
	// always proceeds (spec.md §8 scenario S5: the newer CONNECT wins).
	desc := NewConnectionDescriptor(clientID, ch, cp.CleanSession)
	desc.Username = username
	d.registry.PutIfAbsent(clientID, desc)

	// Step 5: keep-alive idle handler. The transport is responsible for
	// resetting this deadline on inbound traffic (spec.md §4.11); here we
	// only install the initial fire-once timer per §4.7 step 5.
	if cp.KeepAlive > 0 {
		idleAfter := time.Duration(float64(cp.KeepAlive)*1.5+0.999999) * time.Second
		time.AfterFunc(idleAfter, func() {
			d.connectionLost(clientID, desc)
		})
	}

	// Step 6: CAS DISCONNECTED -> SENDACK.
	if !desc.Transition(StateDisconnected, StateSendAck) {
		d.registry.Remove(desc)
		ch.Abort()
		return nil
	}
	existingSession, hadSession := d.sessions.SessionForClient(clientID)
	sessionPresent := !cp.CleanSession && hadSession
	if err := ch.Write(packet.NewConnAck(sessionPresent, packet.ConnectionAccepted)); err != nil {
		d.registry.Remove(desc)
		ch.Abort()
		return nil
	}

	// Step 7: CAS SENDACK -> SESSION_CREATED.
	if !desc.Transition(StateSendAck, StateSessionCreated) {
		d.registry.Remove(desc)
		ch.Abort()
		return nil
	}
	var session *ClientSession
	if hadSession {
		session = existingSession
		session.CleanSession = cp.CleanSession
		if cp.CleanSession {
			session.CleanSessionState()
		}
	} else {
		session, _ = d.sessions.CreateNewSession(clientID, cp.CleanSession)
	}

	// Step 8: will.
	if cp.WillFlag && cp.WillTopic != nil && cp.WillMessage != nil {
		d.wills.Put(clientID, WillMessage{
			ClientID: clientID,
			Topic:    *cp.WillTopic,
			Payload:  []byte(*cp.WillMessage),
			QoS:      cp.WillQoS,
			Retained: cp.WillRetain,
		})
	}

	// Step 9: CAS SESSION_CREATED -> MESSAGES_REPUBLISHED.
	if !desc.Transition(StateSessionCreated, StateMessagesRepublished) {
		d.registry.Remove(desc)
		ch.Abort()
		return nil
	}
	if !cp.CleanSession && hadSession {
		d.publisher.PublishStored(clientID, session)
		for _, msg := range session.StoredMessages() {
			session.RemoveEnqueued(msg.GUID)
		}
	}

	// Step 10: CAS -> ESTABLISHED.
	if !desc.Transition(StateMessagesRepublished, StateEstablished) {
		d.registry.Remove(desc)
		ch.Abort()
		return nil
	}

	d.bus.Notify(InterceptorEvent{Kind: EventClientConnected, ClientID: clientID})
	return desc
}

// HandlePublish dispatches an inbound PUBLISH to the matching QoS handler
// (spec.md §4.5).
func (d *Director) HandlePublish(clientID, username string, pp *packet.PublishPacket) error {
	if err := ValidateTopicName(pp.Topic); err != nil {
		return err
	}
	msg := &StoredMessage{
		ClientID: clientID,
		Topic:    pp.Topic,
		Payload:  pp.Payload,
		QoS:      pp.QoS,
		Retained: pp.Retain,
	}

	switch pp.QoS {
	case packet.QoSAtMostOnce:
		matches := d.topics.Match(pp.Topic)
		d.handlePublishQoS0(clientID, username, msg, matches)
	case packet.QoSAtLeastOnce:
		if pp.PacketID == nil {
			return &er.Err{Context: "Director, Publish", Message: er.ErrMissingPacketID}
		}
		matches := d.topics.Match(pp.Topic)
		if err := d.handlePublishQoS1(clientID, username, msg, matches, *pp.PacketID); err != nil {
			return err
		}
	case packet.QoSExactlyOnce:
		if pp.PacketID == nil {
			return &er.Err{Context: "Director, Publish", Message: er.ErrMissingPacketID}
		}
		if err := d.handlePublishQoS2Receive(clientID, username, msg, *pp.PacketID, pp.DUP); err != nil {
			return err
		}
	}
	d.bus.Notify(InterceptorEvent{
		Kind:        EventPublish,
		ClientID:    clientID,
		Topic:       pp.Topic,
		QoS:         byte(pp.QoS),
		Retained:    pp.Retain,
		PayloadSize: len(pp.Payload),
	})
	return nil
}

// HandlePubAck implements spec.md §4.9 PUBACK.
func (d *Director) HandlePubAck(clientID string, pid uint16) {
	session, ok := d.sessions.SessionForClient(clientID)
	if !ok {
		return
	}
	session.InFlightAcknowledged(pid)
	d.bus.Notify(InterceptorEvent{Kind: EventMessageAcknowledged, ClientID: clientID, PacketID: pid})
}

// HandlePubRec implements spec.md §4.9 PUBREC: move to secondPhase, reply
// PUBREL.
func (d *Director) HandlePubRec(clientID string, pid uint16) error {
	session, ok := d.sessions.SessionForClient(clientID)
	if !ok {
		return nil
	}
	if _, err := session.MoveInFlightToSecondPhaseAckWaiting(pid); err != nil {
		return err
	}
	return d.writeToSender(clientID, packet.NewPubRel(pid))
}

// HandlePubRel implements spec.md §4.5 QoS2 completion: fan out the
// previously stored message, clear the receiving entry, reply PUBCOMP.
func (d *Director) HandlePubRel(clientID, username string, pid uint16) error {
	msg, ok := d.qos2.take(clientID, pid)
	if ok {
		matches := d.topics.Match(msg.Topic)
		d.publisher.Publish2Subscribers(msg, matches)
		if msg.Retained {
			_ = handleRetain(d.messages, msg, msg.GUID)
		}
	}
	return d.writeToSender(clientID, packet.NewPubComp(pid))
}

// HandlePubComp implements spec.md §4.9 PUBCOMP.
func (d *Director) HandlePubComp(clientID string, pid uint16) {
	session, ok := d.sessions.SessionForClient(clientID)
	if !ok {
		return
	}
	session.SecondPhaseAcknowledged(pid)
	d.bus.Notify(InterceptorEvent{Kind: EventMessageAcknowledged, ClientID: clientID, PacketID: pid})
}

// subscribeGuard is the concurrency guard keyed on (clientID, packetID)
// for in-progress SUBSCRIBE processing (spec.md §4.8): insert {VERIFIED};
// if already present, the caller drops the packet as a duplicate.
type subscribeGuard struct {
	mu       sync.Mutex
	verified map[subscribeKey]struct{}
}

type subscribeKey struct {
	clientID string
	packetID uint16
}

func newSubscribeGuard() *subscribeGuard {
	return &subscribeGuard{verified: make(map[subscribeKey]struct{})}
}

// insert returns false if (clientID, pid) is already being processed.
func (g *subscribeGuard) insert(clientID string, pid uint16) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := subscribeKey{clientID, pid}
	if _, exists := g.verified[key]; exists {
		return false
	}
	g.verified[key] = struct{}{}
	return true
}

func (g *subscribeGuard) remove(clientID string, pid uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.verified, subscribeKey{clientID, pid})
}

// HandleSubscribe implements spec.md §4.8 SUBSCRIBE.
func (d *Director) HandleSubscribe(clientID, username string, sp *packet.SubscribePacket) error {
	if !d.subscribing.insert(clientID, sp.PacketID) {
		return nil // duplicate, drop
	}
	defer d.subscribing.remove(clientID, sp.PacketID)

	returnCodes := make([]byte, len(sp.Filters))
	granted := make([]Subscription, 0, len(sp.Filters))
	for i, f := range sp.Filters {
		if err := ValidateFilter(f.Topic); err != nil || !d.authz.CanRead(f.Topic, username, clientID) {
			returnCodes[i] = packet.SubackFailure
			continue
		}
		returnCodes[i] = packet.QoSForSuback(f.QoS)
		granted = append(granted, Subscription{ClientID: clientID, TopicFilter: f.Topic, RequestedQoS: f.QoS})
	}

	session, ok := d.sessions.SessionForClient(clientID)
	if !ok {
		return &er.Err{Context: "Director, Subscribe", Message: er.ErrSessionNotFound}
	}
	for _, sub := range granted {
		session.Subscribe(sub)
		_ = d.topics.Add(sub)
	}

	suback := &packet.SubackPacket{PacketID: sp.PacketID, ReturnCodes: returnCodes}
	if err := d.writeToSender(clientID, suback.Encode()); err != nil {
		return err
	}

	for _, sub := range granted {
		retained, err := d.messages.SearchMatching(func(topic string) bool { return filterMatchesTopic(sub.TopicFilter, topic) })
		if err != nil {
			continue
		}
		d.publisher.PublishRetained(clientID, sub, retained)
		d.bus.Notify(InterceptorEvent{Kind: EventSubscribe, ClientID: clientID, Topic: sub.TopicFilter, QoS: byte(sub.RequestedQoS)})
	}
	return nil
}

// HandleUnsubscribe implements spec.md §4.8 UNSUBSCRIBE. Filter validity
// is already enforced by the codec (protocol violation closes the
// channel on Parse failure); here every filter is applied.
func (d *Director) HandleUnsubscribe(clientID string, up *packet.UnsubscribePacket) error {
	session, ok := d.sessions.SessionForClient(clientID)
	if ok {
		for _, filter := range up.TopicFilters {
			session.UnsubscribeFrom(filter)
			_ = d.topics.Remove(filter, clientID)
			d.bus.Notify(InterceptorEvent{Kind: EventUnsubscribe, ClientID: clientID, Topic: filter})
		}
	}
	return d.writeToSender(clientID, packet.NewUnsubAck(up.PacketID))
}

// HandleDisconnect runs the graceful DISCONNECT sequence (spec.md §4.7bis).
func (d *Director) HandleDisconnect(clientID string, desc *ConnectionDescriptor) {
	if !desc.Transition(StateEstablished, StateSubscriptionsRemoved) {
		desc.Abort()
		return
	}
	session, hasSession := d.sessions.SessionForClient(clientID)
	if hasSession && session.CleanSession {
		d.topics.UnsubscribeAll(clientID)
		d.sessions.WipeSubscriptions(clientID)
	}

	if !desc.Transition(StateSubscriptionsRemoved, StateMessagesDropped) {
		desc.Abort()
		return
	}
	if hasSession && session.CleanSession {
		_ = d.messages.DropMessagesInSession(clientID)
	}

	if !desc.Transition(StateMessagesDropped, StateInterceptorsNotified) {
		desc.Abort()
		return
	}
	d.wills.Remove(clientID)
	d.bus.Notify(InterceptorEvent{Kind: EventClientDisconnected, ClientID: clientID})

	desc.Transition(StateInterceptorsNotified, StateDisconnected)
	d.registry.Remove(desc)
	desc.Abort()
}

// ConnectionLost runs the ungraceful loss sequence (spec.md §4.7ter).
func (d *Director) ConnectionLost(clientID string, desc *ConnectionDescriptor) {
	d.connectionLost(clientID, desc)
}

func (d *Director) connectionLost(clientID string, desc *ConnectionDescriptor) {
	d.registry.Remove(desc)
	desc.Abort()

	if d.registry.TakeReconnecting(clientID) {
		return
	}

	will, ok := d.wills.Take(clientID)
	if !ok {
		d.bus.Notify(InterceptorEvent{Kind: EventConnectionLost, ClientID: clientID})
		return
	}

	msg := &StoredMessage{
		ClientID: clientID,
		Topic:    will.Topic,
		Payload:  will.Payload,
		QoS:      will.QoS,
		Retained: will.Retained,
	}
	matches := d.topics.Match(will.Topic)
	d.publisher.Publish2Subscribers(msg, matches)
	if will.Retained {
		_ = handleRetain(d.messages, msg, "")
	}
	d.bus.Notify(InterceptorEvent{Kind: EventConnectionLost, ClientID: clientID})
}

// Handle dispatches a decoded post-CONNECT packet for an established
// connection to the matching handler (spec.md §4.7-§4.9). Unknown or
// out-of-sequence packet types are a protocol violation: the caller
// should close the channel on a false return.
func (d *Director) Handle(desc *ConnectionDescriptor, pp *packet.ParsedPacket) bool {
	if desc.State() != StateEstablished {
		return false
	}
	clientID, username := desc.ClientID, desc.Username

	switch pp.Type {
	case packet.PUBLISH:
		if err := d.HandlePublish(clientID, username, pp.Publish); err != nil {
			return false
		}
	case packet.PUBACK:
		d.HandlePubAck(clientID, pp.Puback.PacketID)
	case packet.PUBREC:
		if err := d.HandlePubRec(clientID, pp.Pubrec.PacketID); err != nil {
			return false
		}
	case packet.PUBREL:
		if err := d.HandlePubRel(clientID, username, pp.Pubrel.PacketID); err != nil {
			return false
		}
	case packet.PUBCOMP:
		d.HandlePubComp(clientID, pp.Pubcomp.PacketID)
	case packet.SUBSCRIBE:
		if err := d.HandleSubscribe(clientID, username, pp.Subscribe); err != nil {
			return false
		}
	case packet.UNSUBSCRIBE:
		if err := d.HandleUnsubscribe(clientID, pp.Unsubscribe); err != nil {
			return false
		}
	case packet.PINGREQ:
		if err := desc.Channel.Write(packet.CreatePingresp().Encode()); err != nil {
			return false
		}
	case packet.DISCONNECT:
		d.HandleDisconnect(clientID, desc)
	default:
		return false
	}
	return true
}

// filterMatchesTopic reports whether filter would match topic under MQTT
// wildcard rules (used to replay retained messages on SUBSCRIBE, spec.md
// §4.6 publishRetained). It builds a throwaway single-entry matcher to
// reuse the trie's own matching semantics rather than duplicating them.
func filterMatchesTopic(filter, topic string) bool {
	m := NewTopicMatcher()
	_ = m.Add(Subscription{ClientID: "_", TopicFilter: filter})
	return len(m.Match(topic)) > 0
}
