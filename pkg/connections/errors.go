package connections

import "errors"

// Sentinel errors for connection-scoped failures. Callers classify with
// errors.Is; messages carry the server name at the wrap site.
var (
	// ErrSpawnFailure indicates a stdio server process could not be started
	// (missing executable or immediate launch failure).
	ErrSpawnFailure = errors.New("connections: spawn failure")

	// ErrHandshakeFailure indicates the transport opened but protocol
	// initialization did not complete.
	ErrHandshakeFailure = errors.New("connections: handshake failure")

	// ErrConnectionClosed fails calls that were in flight when their
	// connection was disconnected.
	ErrConnectionClosed = errors.New("connections: connection closed")

	// ErrTimeout fails a single call whose deadline expired. The connection
	// itself stays connected.
	ErrTimeout = errors.New("connections: call timed out")

	// ErrUnknownServer is returned for operations on names the registry has
	// never seen.
	ErrUnknownServer = errors.New("connections: unknown server")
)
