// Package streamio implements the byte-transfer loops shared by the client and
// the server: a reliable writer that never leaves a partial write behind, a
// drainer that consumes a stream until end-of-stream, a forwarder that pushes
// local input to a connection and half-closes it, and a printer that copies a
// response verbatim.
//
// All loops are synchronous and use a caller-owned Buffer sized at setup time.
package streamio

import (
	"errors"
	"fmt"
	"io"
)

// DefaultBufferSize is the chunk size used when a Buffer is created with a
// non-positive size.
const DefaultBufferSize = 2048

// maxEmptyReads bounds consecutive (0, nil) reads before a loop gives up.
const maxEmptyReads = 100

// Buffer is a reusable chunk buffer owned by a single transfer loop.
type Buffer []byte

// NewBuffer allocates a Buffer of the given size.
//
// Parameters:
//   - size: Capacity in bytes; values <= 0 select DefaultBufferSize
//
// Returns:
//   - A new Buffer
func NewBuffer(size int) Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}

	return make(Buffer, size)
}

// HalfCloser is a stream whose send direction can be shut down independently
// of its receive direction. *net.TCPConn satisfies it.
type HalfCloser interface {
	io.Writer
	CloseWrite() error
}

// WriteFull writes all of p to w, retrying with the unsent suffix after every
// partial write. It returns as soon as a single write reports an error and
// does not retry that error.
//
// Parameters:
//   - w: The destination stream
//   - p: The bytes to send
//
// Returns:
//   - nil once every byte was accepted by w
//   - The first write error, or io.ErrShortWrite if w made no progress
func WriteFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if n < 0 || n > len(p) {
			return fmt.Errorf("invalid write count %d for %d bytes", n, len(p))
		}

		if err != nil {
			return err
		}

		if n == 0 {
			return io.ErrShortWrite
		}

		p = p[n:]
	}

	return nil
}

// Drain reads r until end-of-stream and hands every chunk to dst in arrival
// order. A read error ends the loop just like end-of-stream does; any bytes
// returned together with the error are still delivered to dst.
//
// Parameters:
//   - r: The stream to consume
//   - dst: Receives every chunk, usually a *checksum.Session
//   - buf: Chunk buffer
//
// Returns:
//   - The number of bytes consumed
//   - nil on a clean end-of-stream, otherwise the read or delivery error
func Drain(r io.Reader, dst io.Writer, buf Buffer) (int64, error) {
	if len(buf) == 0 {
		buf = NewBuffer(0)
	}

	var total int64
	empty := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			empty = 0
			if werr := WriteFull(dst, buf[:n]); werr != nil {
				return total, werr
			}

			total += int64(n)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}

			return total, err
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return total, io.ErrNoProgress
			}
		}
	}
}

// Forward copies src to dst chunk by chunk until src is exhausted, then
// half-closes dst so the peer sees end-of-stream while the receive direction
// stays open. A read error stops the loop after the bytes read alongside it
// were sent; a write error stops it immediately. dst is half-closed in every
// case.
//
// Parameters:
//   - dst: The connection to send on
//   - src: The local input
//   - buf: Chunk buffer
//
// Returns:
//   - The number of bytes sent
//   - The first read, write or half-close error; nil when src reached EOF cleanly
func Forward(dst HalfCloser, src io.Reader, buf Buffer) (int64, error) {
	sent, err := forward(dst, src, buf)
	if cerr := dst.CloseWrite(); cerr != nil && err == nil {
		err = fmt.Errorf("half-close: %w", cerr)
	}

	return sent, err
}

func forward(dst io.Writer, src io.Reader, buf Buffer) (int64, error) {
	if len(buf) == 0 {
		buf = NewBuffer(0)
	}

	var sent int64
	empty := 0
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			empty = 0
			if err := WriteFull(dst, buf[:n]); err != nil {
				return sent, fmt.Errorf("write: %w", err)
			}

			sent += int64(n)
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return sent, nil
			}

			return sent, fmt.Errorf("read: %w", rerr)
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return sent, fmt.Errorf("read: %w", io.ErrNoProgress)
			}
		}
	}
}

// Print copies src to dst verbatim until end-of-stream. It does not retry.
//
// Parameters:
//   - dst: Local output
//   - src: The connection to read the response from
//   - buf: Chunk buffer
//
// Returns:
//   - The number of bytes printed
//   - nil on end-of-stream, otherwise the read or write error
func Print(dst io.Writer, src io.Reader, buf Buffer) (int64, error) {
	n, err := Drain(src, dst, buf)
	if err != nil {
		return n, fmt.Errorf("response: %w", err)
	}

	return n, nil
}
