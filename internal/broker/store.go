package broker

// MessageStore is the broker's view of message persistence (C2, spec.md
// §4.2). The broker core depends only on this interface; internal/store
// supplies the concrete in-memory and sqlite-backed implementations.
type MessageStore interface {
	// StorePublishForFuture assigns a fresh guid, persists payload and
	// metadata, and returns the guid. Fails only on underlying storage
	// error.
	StorePublishForFuture(msg *StoredMessage) (guid string, err error)
	// StoreRetained sets the retained pointer for topic to guid.
	StoreRetained(topic, guid string) error
	// CleanRetained removes the retained pointer for topic.
	CleanRetained(topic string) error
	// SearchMatching returns every retained StoredMessage whose topic
	// satisfies predicate.
	SearchMatching(predicate func(topic string) bool) ([]*StoredMessage, error)
	// DropMessagesInSession erases every stored message published by
	// clientID that is not referenced as retained.
	DropMessagesInSession(clientID string) error
}

// SessionStore is the broker's view of session persistence (C3, spec.md
// §4.3).
type SessionStore interface {
	// SessionForClient returns the session for id, or ok=false if absent.
	SessionForClient(id string) (session *ClientSession, ok bool)
	// CreateNewSession fails with ErrSessionAlreadyExists if id already has
	// a session.
	CreateNewSession(id string, cleanSession bool) (*ClientSession, error)
	// WipeSubscriptions clears the subscription set of id's session, if any.
	WipeSubscriptions(id string)
}
