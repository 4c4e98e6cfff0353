package streamio

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/cyberinferno/sumstream/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroken = errors.New("broken pipe")

// chunkWriter accepts at most max bytes per Write call.
type chunkWriter struct {
	buf   bytes.Buffer
	max   int
	calls int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.max {
		p = p[:w.max]
	}

	return w.buf.Write(p)
}

// failWriter accepts okBytes bytes then fails every write.
type failWriter struct {
	okBytes int
	written int
}

func (w *failWriter) Write(p []byte) (int, error) {
	if w.written >= w.okBytes {
		return 0, errBroken
	}

	n := min(len(p), w.okBytes-w.written)
	w.written += n
	return n, nil
}

type stallWriter struct{}

func (stallWriter) Write(p []byte) (int, error) { return 0, nil }

// halfConn records what was written and whether the send side was closed.
type halfConn struct {
	io.Writer
	closedWrite int
	closeErr    error
}

func (c *halfConn) CloseWrite() error {
	c.closedWrite++
	return c.closeErr
}

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, nil }

func TestNewBuffer(t *testing.T) {
	t.Run("uses requested size", func(t *testing.T) {
		assert.Len(t, NewBuffer(16), 16)
	})

	t.Run("falls back to default for non-positive sizes", func(t *testing.T) {
		assert.Len(t, NewBuffer(0), DefaultBufferSize)
		assert.Len(t, NewBuffer(-5), DefaultBufferSize)
	})
}

func TestWriteFull(t *testing.T) {
	t.Run("retries partial writes until done", func(t *testing.T) {
		w := &chunkWriter{max: 3}
		err := WriteFull(w, []byte("hello world"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", w.buf.String())
		assert.Equal(t, 4, w.calls)
	})

	t.Run("empty input writes nothing", func(t *testing.T) {
		w := &chunkWriter{max: 3}
		require.NoError(t, WriteFull(w, nil))
		assert.Equal(t, 0, w.calls)
	})

	t.Run("stops at the first error", func(t *testing.T) {
		w := &failWriter{okBytes: 4}
		err := WriteFull(w, []byte("abcdefgh"))
		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, 4, w.written)
	})

	t.Run("reports a writer that makes no progress", func(t *testing.T) {
		err := WriteFull(stallWriter{}, []byte("x"))
		assert.ErrorIs(t, err, io.ErrShortWrite)
	})
}

func TestDrain(t *testing.T) {
	t.Run("ABCDE", func(t *testing.T) {
		s := checksum.NewSession()
		n, err := Drain(strings.NewReader("ABCDE"), s, NewBuffer(0))
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, checksum.Report{Sum: 335, Len: 5}, s.Report())
	})

	t.Run("empty stream", func(t *testing.T) {
		s := checksum.NewSession()
		n, err := Drain(strings.NewReader(""), s, NewBuffer(0))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.Equal(t, "Sum: 0 Len: 0\n", s.Report().String())
	})

	t.Run("one byte at a time matches one chunk", func(t *testing.T) {
		data := bytes.Repeat([]byte{0xfa, 0x01, 0x7f}, 5000)

		whole := checksum.NewSession()
		_, err := Drain(bytes.NewReader(data), whole, NewBuffer(len(data)))
		require.NoError(t, err)

		fragmented := checksum.NewSession()
		_, err = Drain(iotest.OneByteReader(bytes.NewReader(data)), fragmented, NewBuffer(7))
		require.NoError(t, err)

		assert.Equal(t, whole.Report(), fragmented.Report())
		assert.Equal(t, uint64(len(data)), fragmented.Len())
	})

	t.Run("data returned with EOF is counted", func(t *testing.T) {
		s := checksum.NewSession()
		_, err := Drain(iotest.DataErrReader(strings.NewReader("ABC")), s, NewBuffer(2))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), s.Len())
	})

	t.Run("read error ends the loop and keeps the partial totals", func(t *testing.T) {
		s := checksum.NewSession()
		r := io.MultiReader(strings.NewReader("AB"), iotest.ErrReader(errBroken))
		n, err := Drain(r, s, NewBuffer(0))
		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, checksum.Report{Sum: 131, Len: 2}, s.Report())
	})

	t.Run("gives up on a reader that never progresses", func(t *testing.T) {
		_, err := Drain(emptyReader{}, checksum.NewSession(), NewBuffer(0))
		assert.ErrorIs(t, err, io.ErrNoProgress)
	})

	t.Run("nil buffer selects the default", func(t *testing.T) {
		s := checksum.NewSession()
		_, err := Drain(strings.NewReader("A"), s, nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(65), s.Sum())
	})
}

func TestForward(t *testing.T) {
	t.Run("sends everything then half-closes", func(t *testing.T) {
		w := &chunkWriter{max: 5}
		conn := &halfConn{Writer: w}
		n, err := Forward(conn, strings.NewReader("the quick brown fox"), NewBuffer(4))
		require.NoError(t, err)
		assert.Equal(t, int64(19), n)
		assert.Equal(t, "the quick brown fox", w.buf.String())
		assert.Equal(t, 1, conn.closedWrite)
	})

	t.Run("empty input only half-closes", func(t *testing.T) {
		w := &chunkWriter{max: 5}
		conn := &halfConn{Writer: w}
		n, err := Forward(conn, strings.NewReader(""), NewBuffer(0))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.Equal(t, 0, w.calls)
		assert.Equal(t, 1, conn.closedWrite)
	})

	t.Run("read error stops forwarding but still half-closes", func(t *testing.T) {
		w := &chunkWriter{max: 64}
		conn := &halfConn{Writer: w}
		r := io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(errBroken))
		n, err := Forward(conn, r, NewBuffer(0))
		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, "abc", w.buf.String())
		assert.Equal(t, 1, conn.closedWrite)
	})

	t.Run("write error stops forwarding", func(t *testing.T) {
		conn := &halfConn{Writer: &failWriter{okBytes: 2}}
		n, err := Forward(conn, strings.NewReader("abcdef"), NewBuffer(3))
		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, int64(0), n)
		assert.Equal(t, 1, conn.closedWrite)
	})

	t.Run("half-close error is reported", func(t *testing.T) {
		conn := &halfConn{Writer: io.Discard, closeErr: errBroken}
		_, err := Forward(conn, strings.NewReader("abc"), NewBuffer(0))
		assert.ErrorIs(t, err, errBroken)
	})
}

func TestPrint(t *testing.T) {
	t.Run("copies bytes verbatim", func(t *testing.T) {
		var out bytes.Buffer
		payload := "Sum: 335 Len: 5\n\x00\xff"
		n, err := Print(&out, iotest.HalfReader(strings.NewReader(payload)), NewBuffer(3))
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)
		assert.Equal(t, payload, out.String())
	})

	t.Run("returns read errors", func(t *testing.T) {
		var out bytes.Buffer
		r := io.MultiReader(strings.NewReader("Sum"), iotest.ErrReader(errBroken))
		_, err := Print(&out, r, NewBuffer(0))
		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, "Sum", out.String())
	})
}
