package qmonitor

import (
	"sync"
	"testing"
	"time"

	"github.com/alxayo/vlm-monitor/internal/frame"
	"github.com/alxayo/vlm-monitor/internal/metrics"
	"github.com/alxayo/vlm-monitor/internal/scheduler"
)

type fakeRegistry struct {
	mu          sync.Mutex
	available   bool
	acquireOK   bool
	acquireText string
	acquireID   string
	released    []string
	releasedOK  []bool
}

func (r *fakeRegistry) HasAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *fakeRegistry) Acquire() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.acquireOK {
		return "", "", false
	}
	r.available = false
	return r.acquireText, r.acquireID, true
}

func (r *fakeRegistry) Release(taskID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, taskID)
	r.releasedOK = append(r.releasedOK, success)
}

type fakeSchedCtl struct {
	mu        sync.Mutex
	inFlight  bool
	pending   *frame.Frame
	orphaned  bool
	reMarked  bool
}

func (s *fakeSchedCtl) Status() scheduler.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scheduler.Status{InFlight: s.inFlight}
}

func (s *fakeSchedCtl) OrphanInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.orphaned = true
}

func (s *fakeSchedCtl) TakePendingFrame() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pending
	s.pending = nil
	return f
}

func (s *fakeSchedCtl) MarkInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = true
	s.reMarked = true
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []*scheduler.InferenceTask
}

func (d *fakeDispatcher) Dispatch(task *scheduler.InferenceTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

func (d *fakeDispatcher) snapshot() []*scheduler.InferenceTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*scheduler.InferenceTask, len(d.tasks))
	copy(out, d.tasks)
	return out
}

func TestTickNoQuestionIsNoOp(t *testing.T) {
	reg := &fakeRegistry{available: false}
	sc := &fakeSchedCtl{inFlight: true, pending: &frame.Frame{Sequence: 1}}
	disp := &fakeDispatcher{}
	m := New(reg, sc, disp, time.Hour, nil, nil)

	m.tick()

	if len(disp.snapshot()) != 0 {
		t.Fatalf("expected no dispatch when no question is available")
	}
}

func TestTickNotInFlightIsNoOp(t *testing.T) {
	reg := &fakeRegistry{available: true, acquireOK: true}
	sc := &fakeSchedCtl{inFlight: false}
	disp := &fakeDispatcher{}
	m := New(reg, sc, disp, time.Hour, nil, nil)

	m.tick()

	if len(disp.snapshot()) != 0 {
		t.Fatalf("expected no dispatch when scheduler is idle (on_frame will admit it)")
	}
}

func TestTickPreemptsAndDispatchesOnPending(t *testing.T) {
	reg := &fakeRegistry{available: true, acquireOK: true, acquireText: "where is the car?", acquireID: "q-1"}
	pending := &frame.Frame{Sequence: 42}
	sc := &fakeSchedCtl{inFlight: true, pending: pending}
	disp := &fakeDispatcher{}
	m := New(reg, sc, disp, time.Hour, metrics.NewCounters(), nil)

	m.tick()

	if !sc.orphaned {
		t.Fatalf("expected the monitor to orphan the in-flight task")
	}
	tasks := disp.snapshot()
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one dispatched task, got %d", len(tasks))
	}
	if tasks[0].Frame.Sequence != 42 || tasks[0].Kind != scheduler.TaskUserQuestion {
		t.Fatalf("expected a user-question task on the cached pending frame, got %+v", tasks[0])
	}
	if !sc.reMarked {
		t.Fatalf("expected scheduler marked in_flight again after dispatch")
	}
}

func TestTickReleasesQuestionWhenNoPendingFrame(t *testing.T) {
	reg := &fakeRegistry{available: true, acquireOK: true, acquireText: "q", acquireID: "q-2"}
	sc := &fakeSchedCtl{inFlight: true, pending: nil}
	disp := &fakeDispatcher{}
	m := New(reg, sc, disp, time.Hour, nil, nil)

	m.tick()

	if len(disp.snapshot()) != 0 {
		t.Fatalf("expected no dispatch when there is no pending frame")
	}
	if len(reg.released) != 1 || reg.released[0] != "q-2" || reg.releasedOK[0] != false {
		t.Fatalf("expected the just-acquired question released with success=false, got %+v / %+v", reg.released, reg.releasedOK)
	}
}

func TestTickLosingAcquireRaceIsNoOp(t *testing.T) {
	reg := &fakeRegistry{available: true, acquireOK: false}
	sc := &fakeSchedCtl{inFlight: true, pending: &frame.Frame{Sequence: 1}}
	disp := &fakeDispatcher{}
	m := New(reg, sc, disp, time.Hour, nil, nil)

	m.tick()

	if len(disp.snapshot()) != 0 {
		t.Fatalf("expected no dispatch when Acquire loses the race")
	}
	if len(reg.released) != 0 {
		t.Fatalf("expected no release attempt when Acquire itself failed")
	}
}
