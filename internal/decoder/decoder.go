// Package decoder implements the Frame Decoder (C1): it reads
// length-prefixed JPEG frames from an upstream TCP source, decodes each to
// a pixel buffer, assigns sequence numbers and timestamps, and hands the
// resulting Frame to the Frame Distributor (C2).
package decoder

import (
	"bytes"
	"context"
	stdErrors "errors"
	"image"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alxayo/vlm-monitor/internal/bufpool"
	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
	"github.com/alxayo/vlm-monitor/internal/frame"
	"github.com/alxayo/vlm-monitor/internal/metrics"
	"github.com/alxayo/vlm-monitor/internal/tcpsource"
)

// FrameSink receives decoded frames. The Frame Distributor implements this;
// Publish must never block the caller (the distributor is responsible for
// its own non-blocking fan-out).
type FrameSink interface {
	Publish(f *frame.Frame)
}

// Decoder reads and decodes frames from a tcpsource.Reader.
type Decoder struct {
	reader    *tcpsource.Reader
	sink      FrameSink
	counters  *metrics.Counters
	logger    *slog.Logger
	startTime time.Time
	seq       uint64
}

// New constructs a Decoder. startTime anchors RelativeTime for every frame
// this Decoder produces (normally time.Now() at pipeline startup).
func New(r *tcpsource.Reader, sink FrameSink, counters *metrics.Counters, logger *slog.Logger, startTime time.Time) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewCounters()
	}
	return &Decoder{reader: r, sink: sink, counters: counters, logger: logger, startTime: startTime}
}

// Run reads frames until ctx is cancelled or the underlying reader returns a
// terminal error (EOF or protocol corruption). Decode failures are dropped
// silently (counted, logged at debug) and do not terminate the loop;
// protocol-level framing corruption does terminate it, since the connection
// must be reset by the caller (reconnection itself is out of scope).
func (d *Decoder) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return monitorerrors.NewShutdownError("decoder.Run", err)
		}

		payload, err := d.reader.ReadFrame()
		if err != nil {
			var pe *monitorerrors.ProtocolError
			if stdErrors.As(err, &pe) {
				d.logger.Warn("framing corruption, connection must be reset", "error", err)
			}
			return err
		}

		seq := atomic.AddUint64(&d.seq, 1) - 1
		now := time.Now()
		f, decErr := d.decodeFrame(payload, seq, now)
		if decErr != nil {
			d.counters.IncFramesDecodeFailed()
			d.logger.Debug("frame decode failed", "frame_seq", seq, "error", decErr)
			continue
		}

		d.counters.IncFramesDecoded()
		d.sink.Publish(f)
	}
}

func (d *Decoder) decodeFrame(payload []byte, seq uint64, wallTime time.Time) (*frame.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, monitorerrors.NewMalformedInputError("decoder.decodeFrame", err)
	}

	pixels, w, h := toRGB(img)

	return &frame.Frame{
		Sequence:     seq,
		WallTime:     wallTime,
		RelativeTime: wallTime.Sub(d.startTime),
		Pixels:       pixels,
		Width:        w,
		Height:       h,
		Encoded:      payload,
	}, nil
}

// toRGB flattens an arbitrary decoded image into a tightly packed 8-bit RGB
// buffer (row-major, 3 bytes per pixel), drawn from the shared buffer pool
// so the distributor's cache-slot eviction can return it for reuse instead
// of leaving it to the next GC cycle. Eviction does not check whether the
// scheduler or a running task still holds the Frame.
func toRGB(img image.Image) ([]byte, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := bufpool.Get(w * h * 3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[i] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return out, w, h
}
