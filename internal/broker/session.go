package broker

import (
	"sync"

	"github.com/riftmq/broker/pkg/er"
)

// ClientSession is the per-client persistent session (spec.md §3, §4.3).
// It is touched by at most one channel goroutine at a time for its owning
// client, except during cross-client fan-out (spec.md §5); a single mutex
// is therefore sufficient and matches the teacher's preference for plain
// locking over lock-free structures at this granularity.
type ClientSession struct {
	ClientID     string
	CleanSession bool

	mu            sync.Mutex
	subscriptions map[string]Subscription // topicFilter -> Subscription
	inflight      map[uint16]*StoredMessage
	secondPhase   map[uint16]*StoredMessage
	enqueued      []*StoredMessage
	nextID        uint16
}

// NewClientSession creates an empty session for id.
func NewClientSession(id string, cleanSession bool) *ClientSession {
	return &ClientSession{
		ClientID:      id,
		CleanSession:  cleanSession,
		subscriptions: make(map[string]Subscription),
		inflight:      make(map[uint16]*StoredMessage),
		secondPhase:   make(map[uint16]*StoredMessage),
	}
}

// NextPacketID returns a strictly increasing (modulo 65535, skipping 0)
// packet id not currently present in inflight or secondPhase (spec.md
// §4.3). This is the Open Questions fix: broker-internal fan-out always
// allocates through here rather than a fixed sentinel id.
func (s *ClientSession) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if _, inflight := s.inflight[s.nextID]; inflight {
			continue
		}
		if _, second := s.secondPhase[s.nextID]; second {
			continue
		}
		return s.nextID
	}
}

// Subscribe records or overwrites sub in this session's subscription set.
func (s *ClientSession) Subscribe(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.TopicFilter] = sub
}

// UnsubscribeFrom removes filter from this session's subscription set.
func (s *ClientSession) UnsubscribeFrom(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, filter)
}

// Subscriptions returns a snapshot of this session's current subscriptions.
func (s *ClientSession) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	return out
}

// StoredMessages returns the enqueued queue followed by the still-inflight
// set, for republish on reconnect (spec.md §4.3 storedMessages). It does
// not remove anything from the session; the caller drops republished
// entries from the queue with RemoveEnqueued.
func (s *ClientSession) StoredMessages() []*StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StoredMessage, 0, len(s.enqueued)+len(s.inflight))
	out = append(out, s.enqueued...)
	for _, msg := range s.inflight {
		out = append(out, msg)
	}
	return out
}

// Enqueue appends msg to the outbound queue; used when the recipient has
// no active connection or its channel is not writable (spec.md §4.6).
func (s *ClientSession) Enqueue(msg *StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, msg)
}

// Dequeue pops the oldest enqueued message, or returns nil if empty.
func (s *ClientSession) Dequeue() *StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.enqueued) == 0 {
		return nil
	}
	msg := s.enqueued[0]
	s.enqueued = s.enqueued[1:]
	return msg
}

// RemoveEnqueued drops any still-pending enqueued entry for guid; used
// once a republished message has been marked dequeued (spec.md §4.7 step 9).
func (s *ClientSession) RemoveEnqueued(guid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.enqueued[:0]
	for _, msg := range s.enqueued {
		if msg.GUID != guid {
			filtered = append(filtered, msg)
		}
	}
	s.enqueued = filtered
}

// RecordInflight stores msg under pid in the inflight map; called after a
// packetID is allocated for a QoS>=1 delivery (spec.md §4.6 step 4).
func (s *ClientSession) RecordInflight(pid uint16, msg *StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[pid] = msg
}

// GetInflightMessage returns the stored message awaiting PUBACK/PUBREC for
// pid, if any (spec.md §4.3).
func (s *ClientSession) GetInflightMessage(pid uint16) (*StoredMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.inflight[pid]
	return msg, ok
}

// InFlightAcknowledged clears pid from inflight on PUBACK (QoS1 complete).
func (s *ClientSession) InFlightAcknowledged(pid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, pid)
}

// MoveInFlightToSecondPhaseAckWaiting moves pid from inflight to
// secondPhase on PUBREC (QoS2 in progress); invariant 2 (spec.md §8)
// guarantees the two maps never share a key for the same pid.
func (s *ClientSession) MoveInFlightToSecondPhaseAckWaiting(pid uint16) (*StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.inflight[pid]
	if !ok {
		return nil, &er.Err{Context: "ClientSession", Message: er.ErrSessionNotFound}
	}
	delete(s.inflight, pid)
	s.secondPhase[pid] = msg
	return msg, nil
}

// SecondPhaseAcknowledged clears pid from secondPhase on PUBCOMP (QoS2
// complete).
func (s *ClientSession) SecondPhaseAcknowledged(pid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secondPhase, pid)
}

// CleanSessionState wipes subscriptions, inflight, secondPhase and
// enqueued; invoked when cleanSession is set (spec.md §3 invariants).
func (s *ClientSession) CleanSessionState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]Subscription)
	s.inflight = make(map[uint16]*StoredMessage)
	s.secondPhase = make(map[uint16]*StoredMessage)
	s.enqueued = nil
}
