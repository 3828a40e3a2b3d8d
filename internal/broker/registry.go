package broker

import "sync"

// ConnectionRegistry maps clientID to the live ConnectionDescriptor and
// enforces single active connection per id (spec.md §4.4, C4). It and the
// reconnecting side map are CAS-only concurrent maps (spec.md §5): never
// get-then-put.
type ConnectionRegistry struct {
	connections  sync.Map // clientID -> *ConnectionDescriptor
	reconnecting sync.Map // clientID -> struct{}
}

// NewConnectionRegistry constructs an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{}
}

// PutIfAbsent is the single admission primitive. If a descriptor already
// exists for id, it marks that id as reconnecting, aborts the existing
// descriptor (closing its channel so the old session's will is not
// published on its loss handler — spec.md §4.4), and installs desc as
// the new current descriptor in its place: the newer CONNECT always
// wins (spec.md §8 scenario S5), it is never the one that aborts.
// displaced reports whether an older descriptor was evicted.
func (r *ConnectionRegistry) PutIfAbsent(id string, desc *ConnectionDescriptor) (displaced bool) {
	for {
		actual, loaded := r.connections.LoadOrStore(id, desc)
		if !loaded {
			return false
		}
		existing := actual.(*ConnectionDescriptor)
		if existing == desc {
			return false
		}
		r.reconnecting.Store(id, struct{}{})
		existing.Abort()
		if r.connections.CompareAndSwap(id, existing, desc) {
			return true
		}
		// Lost a race with another admission/removal for id; retry.
	}
}

// Get returns the descriptor currently registered for id, if any.
func (r *ConnectionRegistry) Get(id string) (*ConnectionDescriptor, bool) {
	v, ok := r.connections.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*ConnectionDescriptor), true
}

// Remove removes desc from the registry only if it is still the current
// descriptor for its clientID (removal by identity, not by a synthetic
// equality sentinel — spec.md §9 Open Questions).
func (r *ConnectionRegistry) Remove(desc *ConnectionDescriptor) bool {
	return r.connections.CompareAndDelete(desc.ClientID, desc)
}

// TakeReconnecting erases and reports whether id was marked reconnecting,
// i.e. whether the connection being lost right now was displaced by a
// newer CONNECT rather than lost on its own (spec.md §4.7ter).
func (r *ConnectionRegistry) TakeReconnecting(id string) bool {
	_, existed := r.reconnecting.LoadAndDelete(id)
	return existed
}
