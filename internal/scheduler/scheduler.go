// Package scheduler implements the Inference Scheduler (C4): the sync-mode
// admission discipline that converts sampled frames into inference tasks
// while guaranteeing at most one in-flight task, preempting for user
// questions, and always preferring the freshest pending frame over a
// first-in-first-out queue.
package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alxayo/vlm-monitor/internal/frame"
	"github.com/alxayo/vlm-monitor/internal/metrics"
)

// TaskKind distinguishes a routine inference task from one dispatched in
// response to a user question.
type TaskKind int

const (
	TaskRoutine TaskKind = iota
	TaskUserQuestion
)

// InferenceTask is the unit of work handed to the coordinator (C6). It is
// destroyed (eligible for GC) once every sibling operation the coordinator
// launched for it has terminated.
type InferenceTask struct {
	ID             string
	Frame          *frame.Frame
	UserQuestion   *string
	QuestionTaskID *string
	StartedAt      time.Time
	Kind           TaskKind

	fromAsyncPool bool
}

// Mode selects between the sync (default) and async scheduling disciplines.
type Mode int32

const (
	ModeSync Mode = iota
	ModeAsync
)

// DefaultAsyncPoolSize is the bounded concurrency limit used in async mode
// when none is supplied.
const DefaultAsyncPoolSize = 3

// QuestionAcquirer is the slice of the Question Registry (C3) the scheduler
// depends on. *question.Registry satisfies this directly.
type QuestionAcquirer interface {
	HasAvailable() bool
	Acquire() (text string, taskID string, ok bool)
}

// Dispatcher launches an InferenceTask's sibling operations (C6) and must
// eventually call Scheduler.OnTaskComplete exactly once for every task it
// accepts, after all siblings have terminated and the question (if any) has
// been released.
type Dispatcher interface {
	Dispatch(task *InferenceTask)
}

// Scheduler holds the sync-mode admission state described in §4.4: a single
// in-flight flag and a single pending-frame slot, each independently
// guarded, so "freshest frame wins" holds under concurrent frame arrival.
type Scheduler struct {
	registry   QuestionAcquirer
	dispatcher Dispatcher
	counters   *metrics.Counters
	logger     *slog.Logger

	inFlight atomic.Bool

	pendingMu sync.Mutex
	pending   *frame.Frame

	mode atomic.Int32

	modeMu       sync.Mutex
	asyncSem     chan struct{}
	asyncWG      sync.WaitGroup
	asyncPoolCap int
}

// New constructs a Scheduler in sync mode. asyncPoolCap<=0 defaults to
// DefaultAsyncPoolSize.
func New(registry QuestionAcquirer, dispatcher Dispatcher, asyncPoolCap int, counters *metrics.Counters, logger *slog.Logger) *Scheduler {
	if asyncPoolCap <= 0 {
		asyncPoolCap = DefaultAsyncPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewCounters()
	}
	return &Scheduler{
		registry:     registry,
		dispatcher:   dispatcher,
		counters:     counters,
		logger:       logger,
		asyncSem:     make(chan struct{}, asyncPoolCap),
		asyncPoolCap: asyncPoolCap,
	}
}

// OnFrame is the scheduler's sole entry point, called by the distributor
// (C2) for every sampled frame. It is O(1) and non-blocking: it spawns
// dispatch work but never waits on it.
func (s *Scheduler) OnFrame(f *frame.Frame) {
	if Mode(s.mode.Load()) == ModeAsync {
		s.dispatchAsync(f)
		return
	}

	if s.registry.HasAvailable() {
		s.admitUserQuestion(f)
		return
	}
	s.admitRoutine(f)
}

// admitUserQuestion implements §4.4 step 1: orphan any in-flight task,
// prefer the cached pending frame over the just-arrived one, and acquire
// the question atomically from the registry.
func (s *Scheduler) admitUserQuestion(f *frame.Frame) {
	s.inFlight.Store(false)

	working := s.swapOrKeepPending(f)

	text, taskID, ok := s.registry.Acquire()
	if !ok {
		// Lost the race with another admission path (the question monitor,
		// most likely). Fall through to the routine path on the original
		// incoming frame, per §4.4 step 1's final sentence.
		s.admitRoutine(f)
		return
	}

	s.inFlight.Store(true)
	s.counters.IncInferenceTasksStarted()
	task := &InferenceTask{
		ID:             taskID,
		Frame:          working,
		UserQuestion:   &text,
		QuestionTaskID: &taskID,
		StartedAt:      time.Now(),
		Kind:           TaskUserQuestion,
	}
	s.dispatcher.Dispatch(task)
}

// admitRoutine implements §4.4 steps 2 and 3.
func (s *Scheduler) admitRoutine(f *frame.Frame) {
	if s.inFlight.CompareAndSwap(false, true) {
		working := s.swapOrKeepPending(f)
		s.counters.IncInferenceTasksStarted()
		task := &InferenceTask{
			ID:        uuid.NewString(),
			Frame:     working,
			StartedAt: time.Now(),
			Kind:      TaskRoutine,
		}
		s.dispatcher.Dispatch(task)
		return
	}

	// Busy: the incoming frame displaces whatever was pending, unconditionally.
	s.pendingMu.Lock()
	s.pending = f
	s.pendingMu.Unlock()
	s.counters.IncFramesSkippedSync()
}

// swapOrKeepPending implements the "prefer cached" swap used by both step 1
// and step 2: if a pending frame exists, it becomes the working frame and
// the incoming frame is promoted into its place; otherwise the incoming
// frame is used directly and the (empty) pending slot is left untouched.
func (s *Scheduler) swapOrKeepPending(incoming *frame.Frame) *frame.Frame {
	s.pendingMu.Lock()
	prev := s.pending
	if prev != nil {
		s.pending = incoming
	}
	s.pendingMu.Unlock()
	if prev != nil {
		return prev
	}
	return incoming
}

// OrphanInFlight resets in_flight without cancelling whatever task is
// currently running. Used by the question monitor (C5) to perform the same
// preemption §4.4 step 1 describes, on the scheduler's behalf.
func (s *Scheduler) OrphanInFlight() {
	s.inFlight.Store(false)
}

// TakePendingFrame atomically removes and returns the cached pending frame,
// or nil if none is cached.
func (s *Scheduler) TakePendingFrame() *frame.Frame {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	f := s.pending
	s.pending = nil
	return f
}

// MarkInFlight sets in_flight, used by the question monitor (C5) after it
// dispatches a task outside the normal OnFrame path.
func (s *Scheduler) MarkInFlight() {
	s.inFlight.Store(true)
}

// OnTaskComplete must be called by the dispatcher exactly once per
// dispatched task, after every sibling operation has terminated and (for
// user-question tasks) after the question has been released. It
// deliberately does not drain pending: doing so fed stale frames into
// inference in an earlier revision (§9).
func (s *Scheduler) OnTaskComplete(task *InferenceTask) {
	if task.fromAsyncPool {
		<-s.asyncSem
		s.asyncWG.Done()
	} else {
		s.inFlight.Store(false)
	}
	s.counters.IncInferenceTasksCompleted()
}

// dispatchAsync implements the bounded concurrent pool used in async mode.
// A frame arriving when the pool is saturated is dropped rather than
// queued, consistent with on_frame's non-blocking contract.
func (s *Scheduler) dispatchAsync(f *frame.Frame) {
	select {
	case s.asyncSem <- struct{}{}:
	default:
		s.counters.IncFramesSkippedSync()
		s.logger.Debug("async pool saturated, dropping frame", "sequence", f.Sequence)
		return
	}
	s.asyncWG.Add(1)
	s.counters.IncInferenceTasksStarted()
	task := &InferenceTask{
		ID:            uuid.NewString(),
		Frame:         f,
		StartedAt:     time.Now(),
		Kind:          TaskRoutine,
		fromAsyncPool: true,
	}
	s.dispatcher.Dispatch(task)
}

// SetMode switches between sync and async scheduling. sync->async flushes
// any pending frame into the async pool as a single task and clears the
// slot; async->sync waits for every outstanding async task to finish before
// frames are accepted under the sync discipline again.
func (s *Scheduler) SetMode(m Mode) {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	cur := Mode(s.mode.Load())
	if cur == m {
		return
	}

	if m == ModeAsync {
		s.pendingMu.Lock()
		p := s.pending
		s.pending = nil
		s.pendingMu.Unlock()

		s.mode.Store(int32(ModeAsync))
		if p != nil {
			s.dispatchAsync(p)
		}
		return
	}

	// async -> sync: wait for outstanding tasks before the sync discipline
	// starts accepting frames again.
	s.asyncWG.Wait()
	s.mode.Store(int32(ModeSync))
}

// Status is a diagnostic snapshot, grounded on the original source's
// get_inference_status().
type Status struct {
	Mode          Mode
	InFlight      bool
	HasPending    bool
	AsyncInFlight int
	AsyncCapacity int
}

// Status returns a point-in-time snapshot of the scheduler's state.
func (s *Scheduler) Status() Status {
	s.pendingMu.Lock()
	hasPending := s.pending != nil
	s.pendingMu.Unlock()
	return Status{
		Mode:          Mode(s.mode.Load()),
		InFlight:      s.inFlight.Load(),
		HasPending:    hasPending,
		AsyncInFlight: len(s.asyncSem),
		AsyncCapacity: s.asyncPoolCap,
	}
}
