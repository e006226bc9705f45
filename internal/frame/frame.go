// Package frame defines the Frame value type shared by every pipeline stage
// and a reference-counted handle that governs when a Frame's buffers may be
// reused.
package frame

import (
	"sync"
	"time"
)

// Frame is an immutable decoded video frame. Once constructed, none of its
// fields are mutated; consumers that need to retain a Frame across an
// asynchronous boundary (an HTTP round trip, a buffered channel) must use a
// Ref (see Ref) rather than copying the Pixels/Encoded slices, since those
// slices may be pooled and reused once the last Ref is released.
type Frame struct {
	// Sequence is a monotonically increasing, pipeline-wide frame number
	// assigned by the decoder (C1). Strictly increasing end to end.
	Sequence uint64
	// WallTime is the time the frame was received/decoded.
	WallTime time.Time
	// RelativeTime is WallTime minus the pipeline's start time.
	RelativeTime time.Duration
	// Pixels is the decoded RGB buffer (row-major, 8-bit per channel).
	Pixels []byte
	Width  int
	Height int
	// Encoded is the original JPEG bytes as received on the wire.
	Encoded []byte
}

// Ref is a reference-counted handle to a Frame. A new Ref is created with
// count 1 by NewRef; every consumer that retains the Frame beyond the call
// that handed it to them must call Acquire, and must call Release exactly
// once per Acquire (and once for the initial reference) when done. When the
// count reaches zero, onRelease (if set) is invoked so the owner can return
// the underlying buffers to a pool.
//
// Grounded on the per-frame sync.WaitGroup reader count used by camera
// capture pipelines to know when a compressed frame's backing buffer is
// safe to overwrite.
type Ref struct {
	mu        sync.Mutex
	f         *Frame
	count     int
	onRelease func(*Frame)
}

// NewRef wraps f in a Ref with an initial reference count of 1.
// onRelease, if non-nil, is invoked exactly once, when the count reaches
// zero, with the wrapped Frame.
func NewRef(f *Frame, onRelease func(*Frame)) *Ref {
	return &Ref{f: f, count: 1, onRelease: onRelease}
}

// Frame returns the wrapped Frame. The returned pointer must not be used
// after the caller's matching Release call.
func (r *Ref) Frame() *Frame {
	return r.f
}

// Acquire increments the reference count and returns the Ref itself for
// chaining. Must be paired with exactly one Release.
func (r *Ref) Acquire() *Ref {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	return r
}

// Release decrements the reference count. When it reaches zero, onRelease
// is invoked once. Calling Release more times than Acquire+1 is a logic
// error in the caller and is not guarded against beyond a defensive floor.
func (r *Ref) Release() {
	r.mu.Lock()
	r.count--
	c := r.count
	f := r.f
	cb := r.onRelease
	r.mu.Unlock()
	if c <= 0 && cb != nil {
		cb(f)
	}
}
