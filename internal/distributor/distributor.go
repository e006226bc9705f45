// Package distributor implements the Frame Distributor (C2): it fans out
// each decoded frame to the latest-frame cache, every live viewer queue,
// and the inference sampler, all without ever blocking the publisher.
package distributor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alxayo/vlm-monitor/internal/bufpool"
	"github.com/alxayo/vlm-monitor/internal/frame"
	"github.com/alxayo/vlm-monitor/internal/metrics"
)

// InferenceSink receives frames selected by the sampling rule. The
// Inference Scheduler (C4) implements this as its on_frame entry point.
type InferenceSink interface {
	OnFrame(f *frame.Frame)
}

// SamplingConfig controls the inference sampling rule of §4.2. ImageMode
// and sync/async scheduling are orthogonal (per the spec's explicit
// resolution of the source's Open Question): ImageMode only changes how C2
// selects frames for the sink, never how C4 schedules them.
type SamplingConfig struct {
	// OriginalFPS is the upstream frame rate; TargetFPS is the desired
	// inference sampling rate. K = OriginalFPS / TargetFPS is computed once.
	OriginalFPS float64
	TargetFPS   float64
	// ImageMode forwards every K-th frame directly to the sink as soon as
	// it arrives. When false (video-mode), frames accumulate into
	// time-sampled batches before being forwarded (see below).
	ImageMode bool
	// BatchOriginalFrames is the video-mode accumulation size
	// (duration · original_fps). Ignored in ImageMode.
	BatchOriginalFrames int
	// BatchTargetFrames is the video-mode emitted sample size
	// (duration · target_fps). Ignored in ImageMode.
	BatchTargetFrames int
}

func (c SamplingConfig) k() int {
	if c.TargetFPS <= 0 {
		return 1
	}
	k := int(c.OriginalFPS/c.TargetFPS + 0.5)
	if k < 1 {
		k = 1
	}
	return k
}

// Distributor is the Frame Distributor (C2). It is safe for concurrent use:
// Publish is called by exactly one goroutine (the decoder), while
// SubscribeViewer/UnsubscribeViewer and LatestFrame may be called
// concurrently from any number of goroutines.
type Distributor struct {
	// latest holds a reference-counted handle on the most recently published
	// Frame. The cache slot (single-writer atomic swap) is the only Ref
	// holder, so it returns the Frame's pixel buffer to the pool once
	// displaced, without checking whether the scheduler or a running task
	// still holds the plain *frame.Frame.
	latest atomic.Pointer[frame.Ref]

	viewersMu sync.RWMutex
	viewers   map[string]*ViewerSubscription
	nextID    uint64

	sinkMu sync.RWMutex
	sink   InferenceSink

	cfg          SamplingConfig
	frameCounter uint64

	videoMu     sync.Mutex
	videoBuffer []*frame.Frame

	counters *metrics.Counters
	logger   *slog.Logger
}

// New constructs a Distributor. counters and logger may be nil (defaults
// are used).
func New(cfg SamplingConfig, counters *metrics.Counters, logger *slog.Logger) *Distributor {
	if counters == nil {
		counters = metrics.NewCounters()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		viewers:  make(map[string]*ViewerSubscription),
		cfg:      cfg,
		counters: counters,
		logger:   logger,
	}
}

// RegisterInferenceSink wires the inference sampler's downstream consumer
// (normally the Inference Scheduler). Must be called before Publish is
// first invoked with intent to sample; calling it again replaces the sink.
func (d *Distributor) RegisterInferenceSink(sink InferenceSink) {
	d.sinkMu.Lock()
	d.sink = sink
	d.sinkMu.Unlock()
}

// SubscribeViewer creates a new bounded, drop-oldest viewer queue of the
// given capacity.
func (d *Distributor) SubscribeViewer(capacity int) *ViewerSubscription {
	id := fmt.Sprintf("viewer-%d", atomic.AddUint64(&d.nextID, 1))
	sub := newViewerSubscription(id, capacity, d.unsubscribe)
	d.viewersMu.Lock()
	d.viewers[id] = sub
	d.viewersMu.Unlock()
	return sub
}

func (d *Distributor) unsubscribe(id string) {
	d.viewersMu.Lock()
	delete(d.viewers, id)
	d.viewersMu.Unlock()
}

// LatestFrame returns the most recently published frame, or nil if none has
// been published yet. Lock-free: a single atomic pointer load. The returned
// Frame remains valid only until the next Publish call may recycle its
// pixel buffer; callers that need it to outlive that window must copy.
func (d *Distributor) LatestFrame() *frame.Frame {
	ref := d.latest.Load()
	if ref == nil {
		return nil
	}
	return ref.Frame()
}

// Publish fans f out to the latest-frame cache, every viewer subscription,
// and (subject to the sampling rule) the inference sink. It never blocks:
// viewer sends are non-blocking drop-oldest, and the sampling decision is
// O(1) plus, in video-mode, an O(batch size) sample-and-forward only once
// per completed batch.
func (d *Distributor) Publish(f *frame.Frame) {
	if f == nil {
		return
	}
	ref := frame.NewRef(f, func(released *frame.Frame) {
		bufpool.Put(released.Pixels)
	})
	old := d.latest.Swap(ref)
	if old != nil {
		old.Release()
	}
	d.broadcastToViewers(f)
	d.sampleForInference(f)
}

func (d *Distributor) broadcastToViewers(f *frame.Frame) {
	d.viewersMu.RLock()
	subs := make([]*ViewerSubscription, 0, len(d.viewers))
	for _, s := range d.viewers {
		subs = append(subs, s)
	}
	d.viewersMu.RUnlock()

	for _, sub := range subs {
		_, dropped := sub.TrySendMessage(f.Encoded)
		if dropped {
			d.counters.IncViewerDrops()
			d.logger.Debug("dropped oldest frame for slow viewer", "viewer_id", sub.ID())
		}
	}
}

func (d *Distributor) sampleForInference(f *frame.Frame) {
	if d.cfg.ImageMode {
		k := d.cfg.k()
		n := atomic.AddUint64(&d.frameCounter, 1)
		if n%uint64(k) != 0 {
			return
		}
		d.forwardToSink(f)
		return
	}

	// Video-mode accumulates every published frame into the batch; the K
	// ratio is applied by accumulateVideoBatch's own even-spaced subsampling
	// (BatchTargetFrames out of BatchOriginalFrames), not by a pre-filter
	// here, so the batch fills over duration·original_fps raw frames per
	// §4.2 rather than duration·original_fps*k of them.
	d.accumulateVideoBatch(f)
}

func (d *Distributor) forwardToSink(f *frame.Frame) {
	d.sinkMu.RLock()
	sink := d.sink
	d.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	sink.OnFrame(f)
}

// accumulateVideoBatch implements the video-mode buffering rule: frames
// accumulate until BatchOriginalFrames is reached, then a time-sampled
// subset of BatchTargetFrames is forwarded to the sink individually (in
// chronological order), and 25% of the batch is retained for continuity
// with the next one.
func (d *Distributor) accumulateVideoBatch(f *frame.Frame) {
	batchSize := d.cfg.BatchOriginalFrames
	if batchSize <= 0 {
		// No video-mode batching configured; behave like image-mode.
		d.forwardToSink(f)
		return
	}

	d.videoMu.Lock()
	d.videoBuffer = append(d.videoBuffer, f)
	if len(d.videoBuffer) < batchSize {
		d.videoMu.Unlock()
		return
	}

	batch := d.videoBuffer
	overlap := batchSize / 4
	retainFrom := batchSize - overlap
	if retainFrom < 0 {
		retainFrom = 0
	}
	d.videoBuffer = append([]*frame.Frame(nil), batch[retainFrom:]...)
	d.videoMu.Unlock()

	emitSize := d.cfg.BatchTargetFrames
	if emitSize <= 0 {
		emitSize = len(batch)
	}
	for _, idx := range sampleEvenlySpaced(len(batch), emitSize) {
		d.forwardToSink(batch[idx])
	}
}
