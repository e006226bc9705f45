// Package metrics holds lock-free counters tracking pipeline health. No
// external metrics backend is wired (see DESIGN.md); this package provides
// the uniform, atomics-only, lock-free-read pattern used throughout the
// pipeline for any value that only needs to be observed, never coordinated
// on.
package metrics

import "sync/atomic"

// Counters is a set of independent atomic counters. The zero value is
// usable. All increments and the Snapshot read are lock-free.
type Counters struct {
	framesDecoded           uint64
	framesDecodeFailed      uint64
	framesSkippedSync       uint64
	viewerDrops             uint64
	inferenceTasksStarted   uint64
	inferenceTasksCompleted uint64
	questionsAutoCleared    uint64
}

// NewCounters returns a ready-to-use, zeroed Counters.
func NewCounters() *Counters { return &Counters{} }

func (c *Counters) IncFramesDecoded()           { atomic.AddUint64(&c.framesDecoded, 1) }
func (c *Counters) IncFramesDecodeFailed()      { atomic.AddUint64(&c.framesDecodeFailed, 1) }
func (c *Counters) IncFramesSkippedSync()       { atomic.AddUint64(&c.framesSkippedSync, 1) }
func (c *Counters) IncViewerDrops()             { atomic.AddUint64(&c.viewerDrops, 1) }
func (c *Counters) IncInferenceTasksStarted()   { atomic.AddUint64(&c.inferenceTasksStarted, 1) }
func (c *Counters) IncInferenceTasksCompleted() { atomic.AddUint64(&c.inferenceTasksCompleted, 1) }
func (c *Counters) IncQuestionsAutoCleared()    { atomic.AddUint64(&c.questionsAutoCleared, 1) }

// Snapshot is a point-in-time value copy of Counters, safe to read without
// any further synchronization.
type Snapshot struct {
	FramesDecoded           uint64
	FramesDecodeFailed      uint64
	FramesSkippedSync       uint64
	ViewerDrops             uint64
	InferenceTasksStarted   uint64
	InferenceTasksCompleted uint64
	QuestionsAutoCleared    uint64
}

// Snapshot returns a consistent-enough (each field individually atomic, not
// a single transactional read) snapshot of all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesDecoded:           atomic.LoadUint64(&c.framesDecoded),
		FramesDecodeFailed:      atomic.LoadUint64(&c.framesDecodeFailed),
		FramesSkippedSync:       atomic.LoadUint64(&c.framesSkippedSync),
		ViewerDrops:             atomic.LoadUint64(&c.viewerDrops),
		InferenceTasksStarted:   atomic.LoadUint64(&c.inferenceTasksStarted),
		InferenceTasksCompleted: atomic.LoadUint64(&c.inferenceTasksCompleted),
		QuestionsAutoCleared:    atomic.LoadUint64(&c.questionsAutoCleared),
	}
}
