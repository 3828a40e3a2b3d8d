package broker

// Authenticator validates a CONNECT's credentials (spec.md §6). username
// and password are nil/empty when the corresponding CONNECT flag is unset.
type Authenticator interface {
	CheckValid(clientID, username string, password []byte) bool
}

// Authorizer gates per-topic read (subscribe) and write (publish) access
// (spec.md §6). Both calls receive the authenticated username (empty for
// anonymous connections) and the requesting clientID.
type Authorizer interface {
	CanRead(topicFilter, username, clientID string) bool
	CanWrite(topic, username, clientID string) bool
}
