package broker

// Channel is the broker's view of a connection: something it can write
// encoded packets to, ask whether it is currently writable (spec.md §5's
// "channel writable" hint), and abort. Transport owns the concrete
// implementation (TCP or WebSocket); the core never imports net.
type Channel interface {
	// Write sends an already-encoded packet. Implementations buffer and
	// flush rather than blocking the calling goroutine on I/O.
	Write(data []byte) error
	// Writable reports whether the channel's write buffer currently has
	// room; false tells the publisher to enqueue instead of writing.
	Writable() bool
	// Abort closes the channel unconditionally; used by fail-closed error
	// paths and by the registry when a reconnect displaces a live
	// connection.
	Abort()
	// RemoteAddr is used only for logging/interceptor context.
	RemoteAddr() string
}
