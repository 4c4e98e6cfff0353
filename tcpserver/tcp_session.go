// Package tcpserver provides a serial TCP acceptor: it binds a listening
// socket, then accepts and fully serves one connection at a time.
package tcpserver

// TCPServerSession is implemented by each connection's protocol handler. The
// server creates one session per accepted connection and calls Handle on the
// accept goroutine, then Close.
type TCPServerSession interface {
	// ID returns the session's identifier assigned by the server.
	ID() uint32

	// Handle runs the per-connection protocol to completion.
	Handle()

	// Close closes the session's connection. It should be safe to call
	// multiple times.
	Close() error
}
