package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/sumstream/logger"
)

// DefaultBacklog is the listen queue length used when Backlog is not set.
const DefaultBacklog = 5

// ErrAlreadyRunning is returned by Listen and Serve when called twice.
var ErrAlreadyRunning = errors.New("server already running")

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("server not listening")

// NewSessionFunc creates the session that will handle an accepted connection.
// It receives the assigned session ID and the accepted net.Conn.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// State is the lifecycle state of a TCPServer.
type State int32

const (
	Unbound   State = iota // No socket yet
	Listening              // Bound and waiting in Accept
	Serving                // Running a session
	Draining               // Session finished, peer being released before the next Accept
	Stopped                // Listener closed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Unbound:
		return "Unbound"
	case Listening:
		return "Listening"
	case Serving:
		return "Serving"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// TCPServer accepts connections one at a time on the IPv4 wildcard address and
// runs each connection's session to completion before accepting the next
// one. Pending clients wait in the listen backlog meanwhile.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Port       int
	Backlog    int
	Listener   net.Listener
	NewSession NewSessionFunc

	state   atomic.Int32
	nextID  atomic.Uint32
	mu      sync.Mutex
	active  TCPServerSession
	serving atomic.Bool
}

// Listen creates the listening socket, bound to 0.0.0.0:Port with the fixed
// Backlog. Port 0 lets the OS choose; BoundPort reports the result.
//
// Returns:
//   - An error if the server is already listening or the socket cannot be bound
func (s *TCPServer) Listen() error {
	if State(s.state.Load()) != Unbound {
		return fmt.Errorf("server %s: %w", s.Name, ErrAlreadyRunning)
	}

	backlog := s.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	ln, err := listen(s.Port, backlog)
	if err != nil {
		s.Logger.Error("binding stream socket", logger.Field{Key: "error", Value: err}, logger.Field{Key: "port", Value: s.Port})
		return fmt.Errorf("server %s failed to bind: %w", s.Name, err)
	}

	s.Listener = ln
	s.state.Store(int32(Listening))
	s.Logger.Info(fmt.Sprintf("%s server listening", s.Name),
		logger.Field{Key: "port", Value: s.BoundPort()},
		logger.Field{Key: "backlog", Value: backlog})

	return nil
}

// BoundPort returns the port the listener is bound to, or 0 before Listen.
func (s *TCPServer) BoundPort() int {
	if s.Listener == nil {
		return 0
	}

	if addr, ok := s.Listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// State returns the current lifecycle state.
func (s *TCPServer) State() State {
	return State(s.state.Load())
}

// ActiveSession returns the session currently being served, if any.
//
// Returns:
//   - The session and true while a connection is being served, or nil and false
func (s *TCPServer) ActiveSession() (TCPServerSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != nil
}

// Serve runs the accept loop on the calling goroutine. For each connection it
// assigns the next ID, creates a session with NewSession and calls Handle
// synchronously, so at most one session runs at a time. Accept errors are
// logged and the loop keeps waiting. Serve returns nil once Stop is called.
//
// Returns:
//   - ErrNotListening if Listen was not called, ErrAlreadyRunning if Serve is
//     already running, otherwise nil after Stop
func (s *TCPServer) Serve() error {
	if s.Listener == nil {
		return fmt.Errorf("server %s: %w", s.Name, ErrNotListening)
	}

	if !s.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("server %s: %w", s.Name, ErrAlreadyRunning)
	}
	defer s.serving.Store(false)

	for {
		if s.State() == Stopped {
			return nil
		}

		conn, err := s.Listener.Accept()
		if err != nil {
			if s.State() == Stopped {
				return nil
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		s.serve(conn)
	}
}

func (s *TCPServer) serve(conn net.Conn) {
	session := s.NewSession(s.nextID.Add(1), conn)

	s.mu.Lock()
	s.active = session
	s.mu.Unlock()
	s.state.CompareAndSwap(int32(Listening), int32(Serving))

	session.Handle()

	s.state.CompareAndSwap(int32(Serving), int32(Draining))
	if err := session.Close(); err != nil {
		s.Logger.Debug("session close", logger.Field{Key: "session", Value: session.ID()}, logger.Field{Key: "error", Value: err})
	}

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	s.state.CompareAndSwap(int32(Draining), int32(Listening))
}

// Stop closes the listener so Serve returns, and closes the active session.
// Safe to call when the server is not running.
func (s *TCPServer) Stop() {
	prev := State(s.state.Swap(int32(Stopped)))
	if prev == Unbound {
		s.state.Store(int32(Unbound))
		return
	}

	if prev == Stopped {
		return
	}

	if s.Listener != nil {
		_ = s.Listener.Close()
	}

	if session, ok := s.ActiveSession(); ok {
		_ = session.Close()
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}
