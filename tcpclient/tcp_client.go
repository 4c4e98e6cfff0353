// Package tcpclient implements the client side of the checksum protocol:
// connect, forward local input, half-close, then print the server's reply.
// Everything runs synchronously on the caller's goroutine.
package tcpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/sumstream/checksum"
	"github.com/cyberinferno/sumstream/logger"
	"github.com/cyberinferno/sumstream/streamio"
)

// ErrNotConnected is returned by Transfer when Connect has not succeeded.
var ErrNotConnected = errors.New("not connected")

// ErrAlreadyConnected is returned by Connect on a client that already has a
// connection.
var ErrAlreadyConnected = errors.New("already connected or connecting")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("client is closed")

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Both directions open
	HalfClosed                          // Send direction shut down, waiting for the reply
	Closed                              // Connection closed
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case HalfClosed:
		return "HalfClosed"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectionTimeout bounds the dial; 0 means no timeout.
	ConnectionTimeout time.Duration
	// BufferSize is the chunk size for both directions.
	BufferSize int
}

// DefaultConfig returns a Config for address with no connect timeout and the
// default buffer size.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config ready for New
func DefaultConfig(address string) Config {
	return Config{
		Address:    address,
		BufferSize: streamio.DefaultBufferSize,
	}
}

// Result summarizes one transfer.
type Result struct {
	// Sent is the number of input bytes written to the connection.
	Sent int64
	// Received is the number of reply bytes copied to the output.
	Received int64
	// ForwardErr is the error that cut forwarding short, if any. The reply is
	// still read after it.
	ForwardErr error
	// Report is the parsed reply. It is only meaningful when ReportErr is nil.
	Report checksum.Report
	// ReportErr wraps checksum.ErrMalformedReport when the reply was not a
	// report line. The reply is printed unchanged either way.
	ReportErr error
}

// Client is a single-use connection to a checksum server.
type Client struct {
	config Config
	log    logger.Logger
	buf    streamio.Buffer

	mu    sync.Mutex
	conn  *net.TCPConn
	state ConnectionState
}

// New creates a Client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings
//   - log: Destination for transfer diagnostics
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config, log logger.Logger) *Client {
	return &Client{
		config: config,
		log:    log,
		buf:    streamio.NewBuffer(config.BufferSize),
		state:  Disconnected,
	}
}

// Connect dials the configured address. No retry is attempted.
//
// Returns:
//   - nil on success; the dial error otherwise
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connecting, Connected, HalfClosed:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp4", c.config.Address)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("connecting stream socket: %w", err)
	}

	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("connecting stream socket: unexpected connection type %T", conn)
	}

	c.mu.Lock()
	c.conn = tcp
	c.state = Connected
	c.mu.Unlock()

	c.log.Debug("connected", logger.Field{Key: "addr", Value: c.config.Address})
	return nil
}

// Transfer forwards in to the server until in is exhausted, half-closes the
// connection and copies the server's reply to out until the server closes.
// A forwarding failure is logged and recorded in Result.ForwardErr; the reply
// is read regardless.
//
// Parameters:
//   - in: Local input, usually os.Stdin
//   - out: Local output, usually os.Stdout
//
// Returns:
//   - The transfer Result
//   - ErrNotConnected, or the error that ended reading the reply
func (c *Client) Transfer(in io.Reader, out io.Writer) (Result, error) {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if conn == nil || state != Connected {
		return Result{}, ErrNotConnected
	}

	var res Result
	res.Sent, res.ForwardErr = streamio.Forward(conn, in, c.buf)
	if res.ForwardErr != nil {
		c.log.Error("forwarding input", logger.Field{Key: "error", Value: res.ForwardErr})
	}
	c.setState(HalfClosed)

	var reply bytes.Buffer
	received, err := streamio.Print(io.MultiWriter(out, &reply), conn, c.buf)
	res.Received = received
	if err != nil {
		c.log.Error("reading stream message", logger.Field{Key: "error", Value: err})
		return res, err
	}

	res.Report, res.ReportErr = checksum.ParseReport(reply.String())
	if res.ReportErr != nil {
		c.log.Debug("reply is not a report", logger.Field{Key: "error", Value: res.ReportErr})
	} else if res.Report.Len != uint64(res.Sent) {
		c.log.Warn("server counted a different length",
			logger.Field{Key: "sent", Value: res.Sent},
			logger.Field{Key: "len", Value: res.Report.Len})
	}

	c.log.Debug("transfer complete",
		logger.Field{Key: "sent", Value: res.Sent},
		logger.Field{Key: "received", Value: res.Received},
		logger.Field{Key: "sum", Value: res.Report.Sum})
	return res, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close closes the connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}

	c.state = Closed
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		c.state = state
	}
}
