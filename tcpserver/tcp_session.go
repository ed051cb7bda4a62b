package tcpserver

// Session is implemented by each connection handler. The server creates one
// per accepted connection and runs Handle in its own goroutine; the
// connection counts against MaxConnections until Handle returns.
type Session interface {
	// ID returns the identifier assigned by the server.
	//
	// Returns:
	//   - The session ID, unique for the lifetime of the server
	ID() uint64

	// Handle serves the connection until the peer leaves or the server stops.
	// It owns the connection and must close it before returning.
	Handle()
}
