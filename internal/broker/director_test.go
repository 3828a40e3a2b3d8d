package broker

import (
	"sync"
	"testing"

	"github.com/riftmq/broker/internal/auth"
	"github.com/riftmq/broker/internal/packet"
	"github.com/riftmq/broker/pkg/er"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is an in-memory broker.Channel: every Write is recorded,
// in order, for the test to inspect.
type fakeChannel struct {
	mu       sync.Mutex
	writes   [][]byte
	writable bool
	aborted  bool
	addr     string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{writable: true, addr: "127.0.0.1:0"}
}

func (c *fakeChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeChannel) Writable() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.writable }
func (c *fakeChannel) Abort()         { c.mu.Lock(); defer c.mu.Unlock(); c.aborted = true }
func (c *fakeChannel) RemoteAddr() string { return c.addr }

func (c *fakeChannel) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// testMemoryStores holds a memStubStore; it does not carry a director.
type testMemoryStores struct {
	messages *memStubStore
}

// memStubStore is a minimal MessageStore+SessionStore used only by these
// tests; internal/store.MemoryStore already covers the production path
// and is exercised by internal/store's own tests.
type memStubStore struct {
	mu       sync.Mutex
	messages map[string]*StoredMessage
	retained map[string]string
	sessions map[string]*ClientSession
	seq      int
}

func newMemStubStore() *memStubStore {
	return &memStubStore{
		messages: make(map[string]*StoredMessage),
		retained: make(map[string]string),
		sessions: make(map[string]*ClientSession),
	}
}

func (s *memStubStore) StorePublishForFuture(msg *StoredMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	guid := string(rune('a' + s.seq))
	stored := msg.Clone()
	stored.GUID = guid
	s.messages[guid] = stored
	return guid, nil
}

func (s *memStubStore) StoreRetained(topic, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retained[topic] = guid
	return nil
}

func (s *memStubStore) CleanRetained(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retained, topic)
	return nil
}

func (s *memStubStore) SearchMatching(predicate func(topic string) bool) ([]*StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*StoredMessage
	for topic, guid := range s.retained {
		if predicate(topic) {
			out = append(out, s.messages[guid])
		}
	}
	return out, nil
}

func (s *memStubStore) DropMessagesInSession(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for guid, msg := range s.messages {
		if msg.ClientID == clientID {
			delete(s.messages, guid)
		}
	}
	return nil
}

func (s *memStubStore) SessionForClient(id string) (*ClientSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *memStubStore) CreateNewSession(id string, cleanSession bool) (*ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil, &er.Err{Context: "memStubStore, CreateNewSession", Message: er.ErrSessionAlreadyExists}
	}
	sess := NewClientSession(id, cleanSession)
	s.sessions[id] = sess
	return sess, nil
}

func (s *memStubStore) WipeSubscriptions(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	for _, sub := range sess.Subscriptions() {
		sess.UnsubscribeFrom(sub.TopicFilter)
	}
}

func newTestDirector(cfg Config) (*Director, *memStubStore) {
	store := newMemStubStore()
	d := New(
		NewConnectionRegistry(),
		store,
		store,
		NewTopicMatcher(),
		NewWillStore(),
		allowAllAuth{},
		auth.AllowAllAuthorizer{},
		NewInterceptorBus(),
		cfg,
	)
	return d, store
}

type allowAllAuth struct{}

func (allowAllAuth) CheckValid(clientID, username string, password []byte) bool { return true }

func connectPacket(clientID string, cleanSession bool) *packet.ConnectPacket {
	return &packet.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  cleanSession,
		ClientID:      clientID,
	}
}

// S1: anonymous disabled, no credentials -> CONNACK rc=5, channel closed.
func TestS1AnonymousDisabledRejectsNoCredentials(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: false})
	ch := newFakeChannel()

	desc := d.HandleConnect(ch, connectPacket("c1", true))

	assert.Nil(t, desc)
	require.Equal(t, 1, ch.count())
	assert.Equal(t, packet.NotAuthorized, ch.last()[3])
	assert.True(t, ch.aborted)
}

// S2: zero-byte clientID, cleanSession=true, policy enabled -> CONNACK
// rc=0, a 32-hex-char assigned clientID.
func TestS2ZeroByteClientIDAssignsUUID(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: true, AllowZeroByteClientID: true})
	ch := newFakeChannel()

	desc := d.HandleConnect(ch, connectPacket("", true))

	require.NotNil(t, desc)
	assert.Len(t, desc.ClientID, 32)
	assert.Equal(t, packet.ConnectionAccepted, ch.last()[3])
}

// S3: retained QoS1 publish replayed to a later subscriber at
// min(stored.qos, requested.qos).
func TestS3RetainedQoS1ReplayedAtMinQoS(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: true})

	pubCh := newFakeChannel()
	pubDesc := d.HandleConnect(pubCh, connectPacket("publisher", true))
	require.NotNil(t, pubDesc)

	pid := uint16(1)
	err := d.HandlePublish(pubDesc.ClientID, "", &packet.PublishPacket{
		Topic: "a/b", Payload: []byte("x"), QoS: packet.QoSAtLeastOnce, Retain: true, PacketID: &pid,
	})
	require.NoError(t, err)

	subCh := newFakeChannel()
	subDesc := d.HandleConnect(subCh, connectPacket("subscriber", true))
	require.NotNil(t, subDesc)

	err = d.HandleSubscribe(subDesc.ClientID, "", &packet.SubscribePacket{
		PacketID: 9,
		Filters:  []packet.SubscribeFilter{{Topic: "a/+", QoS: packet.QoSExactlyOnce}},
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, subCh.count(), 2, "expect SUBACK then the replayed retained PUBLISH")
	replayed := &packet.PublishPacket{}
	require.NoError(t, replayed.Parse(subCh.last()))
	assert.Equal(t, "a/b", replayed.Topic)
	assert.Equal(t, packet.QoSAtLeastOnce, replayed.QoS, "min(stored qos1, requested qos2)")
}

// An invalid filter must be reported per-filter as SUBACK failure, not
// tear down the connection: Parse() no longer rejects it, so this
// exercises the ValidateFilter check in HandleSubscribe directly.
func TestHandleSubscribeInvalidFilterYieldsSubackFailure(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: true})

	ch := newFakeChannel()
	desc := d.HandleConnect(ch, connectPacket("subscriber", true))
	require.NotNil(t, desc)

	err := d.HandleSubscribe(desc.ClientID, "", &packet.SubscribePacket{
		PacketID: 11,
		Filters: []packet.SubscribeFilter{
			{Topic: "a/#/b", QoS: packet.QoSAtMostOnce},
			{Topic: "a/b", QoS: packet.QoSAtLeastOnce},
		},
	})
	require.NoError(t, err, "an invalid filter is reported in SUBACK, not an error that tears down the connection")

	suback := &packet.SubackPacket{}
	require.NoError(t, suback.Parse(ch.last()))
	require.Len(t, suback.ReturnCodes, 2)
	assert.Equal(t, packet.SubackFailure, suback.ReturnCodes[0], "malformed filter must fail")
	assert.Equal(t, packet.SubackMaxQoS1, suback.ReturnCodes[1], "well-formed filter must still be granted")
}

// S4: will published to a subscriber after an ungraceful connection loss.
func TestS4WillPublishedOnConnectionLost(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: true})

	subCh := newFakeChannel()
	subDesc := d.HandleConnect(subCh, connectPacket("B", true))
	require.NotNil(t, subDesc)
	require.NoError(t, d.HandleSubscribe(subDesc.ClientID, "", &packet.SubscribePacket{
		PacketID: 1,
		Filters:  []packet.SubscribeFilter{{Topic: "bye", QoS: packet.QoSAtLeastOnce}},
	}))

	willTopic, willMsg := "bye", "gone"
	willCp := connectPacket("A", true)
	willCp.WillFlag = true
	willCp.WillTopic = &willTopic
	willCp.WillMessage = &willMsg
	willCp.WillQoS = packet.QoSAtLeastOnce

	aCh := newFakeChannel()
	aDesc := d.HandleConnect(aCh, willCp)
	require.NotNil(t, aDesc)

	writesBefore := subCh.count()
	d.ConnectionLost(aDesc.ClientID, aDesc)

	require.Greater(t, subCh.count(), writesBefore)
	delivered := &packet.PublishPacket{}
	require.NoError(t, delivered.Parse(subCh.last()))
	assert.Equal(t, "bye", delivered.Topic)
	assert.Equal(t, []byte("gone"), delivered.Payload)
}

// S5: a displaced CONNECT closes the old channel without publishing its
// will, and the displacing CONNECT gets sessionPresent=1 for a stored
// non-clean session.
func TestS5DisplacedConnectSkipsWill(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: true})

	willTopic, willMsg := "bye", "gone"
	cp := connectPacket("X", false)
	cp.WillFlag = true
	cp.WillTopic = &willTopic
	cp.WillMessage = &willMsg

	firstCh := newFakeChannel()
	firstDesc := d.HandleConnect(firstCh, cp)
	require.NotNil(t, firstDesc)

	subCh := newFakeChannel()
	subDesc := d.HandleConnect(subCh, connectPacket("observer", true))
	require.NotNil(t, subDesc)
	require.NoError(t, d.HandleSubscribe(subDesc.ClientID, "", &packet.SubscribePacket{
		PacketID: 1,
		Filters:  []packet.SubscribeFilter{{Topic: "bye", QoS: packet.QoSAtLeastOnce}},
	}))
	writesBefore := subCh.count()

	secondCh := newFakeChannel()
	secondCp := connectPacket("X", false)
	secondDesc := d.HandleConnect(secondCh, secondCp)

	require.NotNil(t, secondDesc)
	assert.True(t, firstCh.aborted)
	assert.Equal(t, writesBefore, subCh.count(), "displaced connection's will must not be published")

	connack := &packet.ConnackPacket{}
	require.NoError(t, connack.Parse(secondCh.last()))
	assert.Equal(t, packet.ConnectionAccepted, connack.ReturnCode)
	assert.True(t, connack.SessionPresent)

	// The old connection's own read loop eventually notices the abort and
	// reports connection-lost; because it was a displacement, no will.
	d.ConnectionLost(firstDesc.ClientID, firstDesc)
	assert.Equal(t, writesBefore, subCh.count(), "will must still not be published after the old read loop unwinds")
}

// S6: a duplicate QoS2 PUBLISH retransmit gets PUBREC again without
// re-fanning-out to subscribers.
func TestS6QoS2DuplicateRetransmitDoesNotRefanOut(t *testing.T) {
	d, _ := newTestDirector(Config{AllowAnonymous: true})

	subCh := newFakeChannel()
	subDesc := d.HandleConnect(subCh, connectPacket("sub", true))
	require.NotNil(t, subDesc)
	require.NoError(t, d.HandleSubscribe(subDesc.ClientID, "", &packet.SubscribePacket{
		PacketID: 1,
		Filters:  []packet.SubscribeFilter{{Topic: "a/b", QoS: packet.QoSExactlyOnce}},
	}))

	pubCh := newFakeChannel()
	pubDesc := d.HandleConnect(pubCh, connectPacket("pub", true))
	require.NotNil(t, pubDesc)

	pid := uint16(10)
	publish := &packet.PublishPacket{Topic: "a/b", Payload: []byte("x"), QoS: packet.QoSExactlyOnce, PacketID: &pid}

	require.NoError(t, d.HandlePublish(pubDesc.ClientID, "", publish))
	require.Equal(t, 2, pubCh.count(), "CONNACK, then PUBREC")
	assert.Equal(t, packet.PUBREC, packet.PacketType(pubCh.last()[0]&0xF0))

	publish.DUP = true
	require.NoError(t, d.HandlePublish(pubDesc.ClientID, "", publish))
	require.Equal(t, 3, pubCh.count())
	assert.Equal(t, packet.PUBREC, packet.PacketType(pubCh.last()[0]&0xF0))

	require.NoError(t, d.HandlePubRel(pubDesc.ClientID, "", pid))
	require.Equal(t, 3, subCh.count(), "CONNACK, SUBACK, then fan-out exactly once, on PUBREL, not on either PUBLISH")
}
