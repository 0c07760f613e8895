package interfaces

// Connection is a live transport handle owned by one user.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and the registry,
// and lets tests substitute a recording fake.
type Connection interface {
	// Send delivers a JSON-encodable value to the client (thread-safe).
	Send(v any) error

	// Close terminates the transport. Safe to call more than once.
	Close() error

	// Connected reports whether the transport is still open.
	Connected() bool

	// UserID returns the authenticated user's ID.
	UserID() string
}
