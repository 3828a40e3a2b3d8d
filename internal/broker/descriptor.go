package broker

import "sync/atomic"

// ConnState is the connection descriptor's lifecycle (spec.md §3). Every
// transition is a compare-and-swap; a failed CAS aborts the handler
// without partial side effects (spec.md §5, Design Notes: "explicit enum
// with a transition(from, to) primitive returning success").
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateSendAck
	StateSessionCreated
	StateMessagesRepublished
	StateEstablished
	StateSubscriptionsRemoved
	StateMessagesDropped
	StateInterceptorsNotified
)

// ConnectionDescriptor is the registry's record of one live connection
// (spec.md §3). It is owned by the registry for the life of the TCP
// connection; the channel is shared with the transport and is closed
// exclusively through Abort or a transition into StateDisconnected.
type ConnectionDescriptor struct {
	ClientID     string
	Channel      Channel
	CleanSession bool
	Username     string // empty for anonymous connections

	state atomic.Int32
}

// NewConnectionDescriptor creates a descriptor in StateDisconnected,
// matching the state a connection starts in before CONNECT processing
// begins (spec.md §4.7 step 6 is the first real transition).
func NewConnectionDescriptor(clientID string, ch Channel, cleanSession bool) *ConnectionDescriptor {
	d := &ConnectionDescriptor{ClientID: clientID, Channel: ch, CleanSession: cleanSession}
	d.state.Store(int32(StateDisconnected))
	return d
}

// State returns the descriptor's current state.
func (d *ConnectionDescriptor) State() ConnState {
	return ConnState(d.state.Load())
}

// Transition attempts the CAS from -> to. A false return means some other
// goroutine already moved the descriptor (or it is not currently in from);
// the caller must abort its handler without further side effects.
func (d *ConnectionDescriptor) Transition(from, to ConnState) bool {
	return d.state.CompareAndSwap(int32(from), int32(to))
}

// Abort closes the descriptor's channel and forces it to StateDisconnected
// regardless of its current state; used when the registry displaces a
// descriptor with a newer CONNECT (spec.md §4.4).
func (d *ConnectionDescriptor) Abort() {
	d.state.Store(int32(StateDisconnected))
	if d.Channel != nil {
		d.Channel.Abort()
	}
}
