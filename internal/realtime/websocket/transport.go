package websocket

// Transport is the send side of one client session. Implementations must be
// safe for concurrent use.
type Transport interface {
	// Send queues frame, waiting up to the transport's send timeout for room.
	Send(frame []byte) error
	// TrySend queues frame only when no waiting is needed.
	TrySend(frame []byte) error
	// Ready reports whether the session accepts frames yet.
	Ready() bool
	// Closed reports whether the session has ended. A closed transport
	// never becomes ready again.
	Closed() bool
	Close() error
}
