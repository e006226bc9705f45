// Package qmonitor implements the Question Monitor (C5): a dedicated
// polling loop that guarantees bounded latency for user questions even when
// frame arrival has paused, by performing the scheduler's own preemption
// dance on its behalf.
package qmonitor

import (
	"context"
	"log/slog"
	"time"

	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
	"github.com/alxayo/vlm-monitor/internal/frame"
	"github.com/alxayo/vlm-monitor/internal/metrics"
	"github.com/alxayo/vlm-monitor/internal/scheduler"
)

// DefaultPollInterval matches §4.5's "~0.5 s" default.
const DefaultPollInterval = 500 * time.Millisecond

// QuestionSource is the slice of the Question Registry (C3) the monitor
// depends on. *question.Registry satisfies this directly.
type QuestionSource interface {
	HasAvailable() bool
	Acquire() (text string, taskID string, ok bool)
	Release(taskID string, success bool)
}

// SchedulerController is the slice of the Inference Scheduler (C4) the
// monitor acts on behalf of. *scheduler.Scheduler satisfies this directly.
type SchedulerController interface {
	Status() scheduler.Status
	OrphanInFlight()
	TakePendingFrame() *frame.Frame
	MarkInFlight()
}

// Monitor polls QuestionSource and, when a question is waiting while the
// scheduler is busy, orphans the running task and dispatches a
// user-question task on the cached pending frame.
type Monitor struct {
	registry   QuestionSource
	scheduler  SchedulerController
	dispatcher scheduler.Dispatcher
	interval   time.Duration
	counters   *metrics.Counters
	logger     *slog.Logger
}

// New constructs a Monitor. interval<=0 defaults to DefaultPollInterval.
func New(registry QuestionSource, sched SchedulerController, dispatcher scheduler.Dispatcher, interval time.Duration, counters *metrics.Counters, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewCounters()
	}
	return &Monitor{
		registry:   registry,
		scheduler:  sched,
		dispatcher: dispatcher,
		interval:   interval,
		counters:   counters,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return monitorerrors.NewShutdownError("qmonitor.Run", ctx.Err())
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs one polling pass. It must not acquire while the question is
// already assigned; it relies on the registry's atomic state machine to
// lose that race benignly (Acquire simply returns ok=false).
func (m *Monitor) tick() {
	if !m.registry.HasAvailable() {
		return
	}
	if !m.scheduler.Status().InFlight {
		// Nothing to preempt; the normal on_frame path will pick the
		// question up the moment a frame admits it.
		return
	}

	m.scheduler.OrphanInFlight()

	text, taskID, ok := m.registry.Acquire()
	if !ok {
		// Lost the race — most likely on_frame's own admission path got
		// there first. Nothing further to do.
		return
	}

	pending := m.scheduler.TakePendingFrame()
	if pending == nil {
		// No frame to dispatch on; release rather than hold the question
		// hostage. Release drops the question, so the next arriving frame
		// is admitted as routine work.
		m.registry.Release(taskID, false)
		return
	}

	m.scheduler.MarkInFlight()
	task := &scheduler.InferenceTask{
		ID:             taskID,
		Frame:          pending,
		UserQuestion:   &text,
		QuestionTaskID: &taskID,
		StartedAt:      time.Now(),
		Kind:           scheduler.TaskUserQuestion,
	}
	m.counters.IncInferenceTasksStarted()
	m.dispatcher.Dispatch(task)
}
