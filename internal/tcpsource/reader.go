// Package tcpsource implements the upstream video wire format: a TCP stream
// of length-prefixed JPEG frames (8-byte little-endian length, then N bytes
// of JPEG payload, no frame boundaries or timestamps on the wire).
//
// Reconnection and backoff are the caller's responsibility (out of scope
// per spec); this package only reads one well-formed frame at a time from
// whatever io.Reader it is given.
package tcpsource

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
)

// MaxPayloadBytes is the largest JPEG payload accepted on the wire. Frames
// exceeding this are treated as framing corruption (the connection must be
// reset by the caller).
const MaxPayloadBytes = 100 * 1024 * 1024 // 100 MiB

const lengthPrefixBytes = 8

// Reader reads length-prefixed JPEG frames from an underlying io.Reader.
type Reader struct {
	r   io.Reader
	hdr [lengthPrefixBytes]byte
}

// NewReader wraps r for length-prefixed frame reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads one length-prefixed frame and returns its JPEG payload.
// The returned slice is owned by the caller (freshly allocated per call).
//
// Errors:
//   - io.EOF when the underlying reader is cleanly closed before a new
//     frame's length prefix begins.
//   - a *errors.ProtocolError when the declared length exceeds
//     MaxPayloadBytes (framing corruption — caller must reset the
//     connection).
//   - a wrapped I/O error for any other short read.
func (r *Reader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("read frame length prefix: %w", err)
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint64(r.hdr[:])
	if n > MaxPayloadBytes {
		return nil, monitorerrors.NewProtocolError(
			"tcpsource.ReadFrame",
			fmt.Errorf("declared payload length %d exceeds maximum %d", n, MaxPayloadBytes),
		)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// Dialer connects to a TCP video source, retrying failed connection
// attempts with a short exponential backoff. It does not watch an open
// connection: nothing redials after a read error or EOF. It is
// provided for completeness — the core decoder (C1) is handed an
// already-open io.Reader and does not itself retry — so this is not
// exercised by core pipeline tests, only its own.
type Dialer struct {
	Addr       string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// NewDialer constructs a Dialer with sensible defaults (100ms..10s backoff).
func NewDialer(addr string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{Addr: addr, MinBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second, Logger: logger}
}

// Dial blocks until it establishes a connection or ctx is cancelled,
// doubling its backoff delay after each failed attempt up to MaxBackoff.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	backoff := d.MinBackoff
	for {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, monitorerrors.NewShutdownError("tcpsource.Dial", ctx.Err())
		}
		d.Logger.Warn("tcp video source dial failed, retrying", "addr", d.Addr, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, monitorerrors.NewShutdownError("tcpsource.Dial", ctx.Err())
		}
		backoff *= 2
		if backoff > d.MaxBackoff {
			backoff = d.MaxBackoff
		}
	}
}

// WriteFrame writes a length-prefixed frame to w. Provided for tests and
// for any caller implementing a test source; not exercised by the core
// pipeline (which only ever reads).
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [lengthPrefixBytes]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
