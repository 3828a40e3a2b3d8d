// Package store provides the default in-memory MessageStore/SessionStore
// implementation and, in the sqlite subpackage, an optional
// persistence-backed one (spec.md §4.2/§4.3, SPEC_FULL.md §6).
package store

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/pkg/er"
)

// MemoryStore is the default MessageStore and SessionStore implementation:
// concurrent maps with no backing persistence. It satisfies both
// broker.MessageStore and broker.SessionStore.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  map[string]*broker.StoredMessage // guid -> message
	retained  map[string]string                // topic -> guid
	sessions  map[string]*broker.ClientSession // clientID -> session
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*broker.StoredMessage),
		retained: make(map[string]string),
		sessions: make(map[string]*broker.ClientSession),
	}
}

// StorePublishForFuture implements broker.MessageStore.
func (s *MemoryStore) StorePublishForFuture(msg *broker.StoredMessage) (string, error) {
	guid := strippedUUID()
	stored := msg.Clone()
	stored.GUID = guid
	s.mu.Lock()
	s.messages[guid] = stored
	s.mu.Unlock()
	return guid, nil
}

// RestoreMessage reinserts a message recovered from a durable backing
// store under its original guid, bypassing guid assignment. Used by
// sqlite.Open to hydrate the in-memory index from the kv table on
// startup; never called from normal publish handling.
func (s *MemoryStore) RestoreMessage(msg *broker.StoredMessage) {
	stored := msg.Clone()
	stored.GUID = msg.GUID
	s.mu.Lock()
	s.messages[stored.GUID] = stored
	s.mu.Unlock()
}

// RestoreRetained reinstates a topic's retained pointer without the
// "message already stored" check StoreRetained enforces, since restore
// order (messages, then retained) is controlled by the caller. Used by
// sqlite.Open alongside RestoreMessage.
func (s *MemoryStore) RestoreRetained(topic, guid string) {
	s.mu.Lock()
	s.retained[topic] = guid
	s.mu.Unlock()
}

// StoreRetained implements broker.MessageStore.
func (s *MemoryStore) StoreRetained(topic, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[guid]; !ok {
		return &er.Err{Context: "MemoryStore, StoreRetained", Message: er.ErrSessionNotFound}
	}
	s.retained[topic] = guid
	return nil
}

// CleanRetained implements broker.MessageStore.
func (s *MemoryStore) CleanRetained(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retained, topic)
	return nil
}

// SearchMatching implements broker.MessageStore. It linearly scans the
// retained index, per spec.md §9's acknowledged-inefficient contract.
func (s *MemoryStore) SearchMatching(predicate func(topic string) bool) ([]*broker.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*broker.StoredMessage
	for topic, guid := range s.retained {
		if !predicate(topic) {
			continue
		}
		if msg, ok := s.messages[guid]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// DropMessagesInSession implements broker.MessageStore.
func (s *MemoryStore) DropMessagesInSession(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	retainedGUIDs := make(map[string]struct{}, len(s.retained))
	for _, guid := range s.retained {
		retainedGUIDs[guid] = struct{}{}
	}
	for guid, msg := range s.messages {
		if msg.ClientID != clientID {
			continue
		}
		if _, retained := retainedGUIDs[guid]; retained {
			continue
		}
		delete(s.messages, guid)
	}
	return nil
}

// SessionForClient implements broker.SessionStore.
func (s *MemoryStore) SessionForClient(id string) (*broker.ClientSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// CreateNewSession implements broker.SessionStore.
func (s *MemoryStore) CreateNewSession(id string, cleanSession bool) (*broker.ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil, &er.Err{Context: "MemoryStore, CreateNewSession", Message: er.ErrSessionAlreadyExists}
	}
	session := broker.NewClientSession(id, cleanSession)
	s.sessions[id] = session
	return session, nil
}

// WipeSubscriptions implements broker.SessionStore.
func (s *MemoryStore) WipeSubscriptions(id string) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	for _, sub := range session.Subscriptions() {
		session.UnsubscribeFrom(sub.TopicFilter)
	}
}

// strippedUUID matches spec.md §3's "server-generated UUID-hex (no
// dashes)" format used for guids as well as generated clientIDs.
func strippedUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
