package sumserver

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/sumstream/checksum"
	"github.com/cyberinferno/sumstream/history"
	"github.com/cyberinferno/sumstream/logger"
	"github.com/cyberinferno/sumstream/perfmonitor"
	"github.com/cyberinferno/sumstream/streamio"
)

// historyTimeout bounds a history lookup or update so a slow redis cannot
// hold up the accept loop for long.
const historyTimeout = 2 * time.Second

// SumSession serves one accepted connection: it drains the peer's stream
// into a fresh checksum.Session, sends the report and closes the connection.
type SumSession struct {
	id      uint32
	conn    net.Conn
	log     logger.Logger
	buf     streamio.Buffer
	history history.Store
	sum     *checksum.Session
	perf    *perfmonitor.PerformanceMonitor

	closeOnce sync.Once
	closeErr  error
}

// NewSumSession creates the session for conn. buf is reused across sessions
// by the server; the checksum state is always new.
//
// Parameters:
//   - id: Session ID assigned by the server
//   - conn: The accepted connection, owned by the session from now on
//   - log: Base logger; the session adds its own fields
//   - buf: Chunk buffer
//   - hist: Recent-session store; history.Nop{} to disable
//
// Returns:
//   - A new *SumSession
func NewSumSession(id uint32, conn net.Conn, log logger.Logger, buf streamio.Buffer, hist history.Store) *SumSession {
	ip, port := peer(conn.RemoteAddr())
	return &SumSession{
		id:      id,
		conn:    conn,
		log:     log.With(logger.Field{Key: "session", Value: id}, logger.Field{Key: "peer_ip", Value: ip}, logger.Field{Key: "peer_port", Value: port}),
		buf:     buf,
		history: hist,
		sum:     checksum.NewSession(),
		perf:    perfmonitor.NewPerformanceMonitor(),
	}
}

// ID implements tcpserver.TCPServerSession.
func (s *SumSession) ID() uint32 {
	return s.id
}

// Report returns the totals accumulated so far.
func (s *SumSession) Report() checksum.Report {
	return s.sum.Report()
}

// Handle implements tcpserver.TCPServerSession. Read errors end the drain
// like end-of-stream does, so a damaged connection still gets a best-effort
// report. The connection is closed before the session is recorded in the
// history, so the client sees end-of-stream as soon as the report is out.
func (s *SumSession) Handle() {
	ip, port := peer(s.conn.RemoteAddr())
	s.log.Info("Accepted connection from " + ip + ", port " + port)

	s.perf.Start()
	n, err := streamio.Drain(s.conn, s.sum, s.buf)
	s.perf.AddBytes(n)
	if err != nil {
		s.log.Error("reading stream message", logger.Field{Key: "error", Value: err})
	}
	s.log.Info("Ending connection")

	report := s.sum.Report()
	if err := streamio.WriteFull(s.conn, report.Bytes()); err != nil {
		s.log.Error("write failed", logger.Field{Key: "error", Value: err})
	}
	s.perf.Stop()

	if err := s.Close(); err != nil {
		s.log.Debug("closing connection", logger.Field{Key: "error", Value: err})
	}

	recent := s.record(ip, report)
	s.log.Info("session complete",
		logger.Field{Key: "sum", Value: report.Sum},
		logger.Field{Key: "len", Value: report.Len},
		logger.Field{Key: "elapsed_ms", Value: s.perf.ElapsedMilliseconds()},
		logger.Field{Key: "mib_per_sec", Value: s.perf.ThroughputMiBps()},
		logger.Field{Key: "recent_sessions", Value: recent})
}

// record stores the report and returns how many unexpired sessions the peer
// has, this one included. History failures are logged and otherwise ignored.
func (s *SumSession) record(ip string, report checksum.Report) int {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	entry := history.Entry{Report: report, Session: s.id, At: time.Now()}
	if err := s.history.Record(ctx, ip, entry); err != nil {
		s.log.Warn("history record failed", logger.Field{Key: "error", Value: err})
		return 0
	}

	recent, err := s.history.Recent(ctx, ip)
	if err != nil {
		s.log.Warn("history lookup failed", logger.Field{Key: "error", Value: err})
		return 0
	}

	return len(recent)
}

// Close implements tcpserver.TCPServerSession. Idempotent.
func (s *SumSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

func peer(addr net.Addr) (string, string) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), strconv.Itoa(tcp.Port)
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}

	return host, port
}
