// Package sumserver wires the checksum protocol into tcpserver: every accepted
// connection is drained, summed and answered with a one-line report before
// the next connection is accepted.
package sumserver

import (
	"net"

	"github.com/cyberinferno/sumstream/config"
	"github.com/cyberinferno/sumstream/history"
	"github.com/cyberinferno/sumstream/logger"
	"github.com/cyberinferno/sumstream/streamio"
	"github.com/cyberinferno/sumstream/tcpserver"
)

// Name is the server name used in log messages.
const Name = "sumstream"

// New builds an unbound server from cfg. Call Listen, then Serve.
//
// Parameters:
//   - cfg: Validated server configuration
//   - log: Logger for server and session events
//   - hist: Recent-session store; nil disables history
//
// Returns:
//   - A *tcpserver.TCPServer whose sessions speak the checksum protocol
func New(cfg config.Server, log logger.Logger, hist history.Store) *tcpserver.TCPServer {
	if hist == nil {
		hist = history.Nop{}
	}

	// Sessions never overlap, so one buffer serves all of them.
	buf := streamio.NewBuffer(cfg.BufferSize)

	return &tcpserver.TCPServer{
		Logger:  log,
		Name:    Name,
		Port:    cfg.ListenerPort,
		Backlog: cfg.Backlog,
		NewSession: func(id uint32, conn net.Conn) tcpserver.TCPServerSession {
			return NewSumSession(id, conn, log, buf, hist)
		},
	}
}
