// Package checksum holds the per-connection transfer session state: a 16-bit
// wraparound sum of every received byte and the number of bytes received.
package checksum

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedReport is returned by ParseReport when a line does not have the
// "Sum: <sum> Len: <len>" shape.
var ErrMalformedReport = errors.New("malformed report")

// Session accumulates the checksum and byte count of a single connection. The
// zero value is a fresh session with both counters at zero. A Session must not
// be shared between connections.
type Session struct {
	sum uint16
	len uint64
}

// NewSession returns a fresh session with Sum and Len set to zero.
//
// Returns:
//   - A new *Session ready to accumulate bytes
func NewSession() *Session {
	return &Session{}
}

// Add folds every byte of p into the session in order. The sum wraps modulo
// 65536.
//
// Parameters:
//   - p: The received bytes
func (s *Session) Add(p []byte) {
	for _, b := range p {
		s.sum += uint16(b)
	}

	s.len += uint64(len(p))
}

// Write implements io.Writer so a Session can be the destination of a stream
// copy. It never returns an error.
func (s *Session) Write(p []byte) (int, error) {
	s.Add(p)
	return len(p), nil
}

// Sum returns the running 16-bit checksum.
func (s *Session) Sum() uint16 {
	return s.sum
}

// Len returns the number of bytes folded in so far.
func (s *Session) Len() uint64 {
	return s.len
}

// Report returns an immutable snapshot of the session totals.
//
// Returns:
//   - A Report carrying the current Sum and Len
func (s *Session) Report() Report {
	return Report{Sum: s.sum, Len: s.len}
}

// Report is the one-line summary sent back to the client once its input has
// been drained.
type Report struct {
	Sum uint16
	Len uint64
}

// String formats the report as it travels on the wire, including the
// trailing newline.
func (r Report) String() string {
	return "Sum: " + strconv.FormatUint(uint64(r.Sum), 10) + " Len: " + strconv.FormatUint(r.Len, 10) + "\n"
}

// Bytes returns the wire form of the report.
func (r Report) Bytes() []byte {
	return []byte(r.String())
}

// ParseReport parses a report line such as "Sum: 335 Len: 5". Surrounding
// whitespace, including the trailing newline, is ignored.
//
// Parameters:
//   - line: The text received from the server
//
// Returns:
//   - The parsed Report
//   - An error wrapping ErrMalformedReport if the line cannot be parsed
func ParseReport(line string) (Report, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "Sum:" || fields[2] != "Len:" {
		return Report{}, fmt.Errorf("%w: %q", ErrMalformedReport, line)
	}

	sum, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Report{}, fmt.Errorf("%w: sum %q: %v", ErrMalformedReport, fields[1], err)
	}

	n, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return Report{}, fmt.Errorf("%w: len %q: %v", ErrMalformedReport, fields[3], err)
	}

	return Report{Sum: uint16(sum), Len: n}, nil
}
