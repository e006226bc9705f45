package tcpsource

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
)

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		{0xFF, 0xD8, 0xFF, 0xD9},
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	r := NewReader(&buf)
	for i, want := range payloads {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %v want %v", i, got, want)
		}
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrameOversizeIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], MaxPayloadBytes+1)
	buf.Write(hdr[:])

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	if err == nil {
		t.Fatalf("expected error for oversize frame")
	}
	var pe *monitorerrors.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *errors.ProtocolError, got %T: %v", err, err)
	}
}

func TestReadFrameShortPayload(t *testing.T) {
	var buf bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], 10)
	buf.Write(hdr[:])
	buf.Write([]byte{1, 2, 3}) // fewer than declared 10 bytes

	r := NewReader(&buf)
	if _, err := r.ReadFrame(); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
