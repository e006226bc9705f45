package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/alxayo/vlm-monitor/internal/frame"
	"github.com/alxayo/vlm-monitor/internal/metrics"
)

type fakeRegistry struct {
	mu          sync.Mutex
	available   bool
	acquireOK   bool
	acquireText string
	acquireID   string
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

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []*InferenceTask
}

func (d *fakeDispatcher) Dispatch(task *InferenceTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

func (d *fakeDispatcher) snapshot() []*InferenceTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*InferenceTask, len(d.tasks))
	copy(out, d.tasks)
	return out
}

func mkFrame(seq uint64) *frame.Frame {
	return &frame.Frame{Sequence: seq, WallTime: time.Now()}
}

func TestIdleAdmitsImmediately(t *testing.T) {
	reg := &fakeRegistry{}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 0, metrics.NewCounters(), nil)

	s.OnFrame(mkFrame(1))

	tasks := disp.snapshot()
	if len(tasks) != 1 || tasks[0].Frame.Sequence != 1 {
		t.Fatalf("expected one routine task on frame 1, got %+v", tasks)
	}
	if !s.Status().InFlight {
		t.Fatalf("expected in_flight after admitting a routine task")
	}
}

func TestBusyCachesPendingAndCountsSkipped(t *testing.T) {
	reg := &fakeRegistry{}
	disp := &fakeDispatcher{}
	c := metrics.NewCounters()
	s := New(reg, disp, 0, c, nil)

	s.OnFrame(mkFrame(1)) // starts routine task, in_flight=true
	s.OnFrame(mkFrame(2)) // busy: cached into pending
	s.OnFrame(mkFrame(3)) // busy: displaces frame 2 in pending

	if got := len(disp.snapshot()); got != 1 {
		t.Fatalf("expected exactly one dispatched task while busy, got %d", got)
	}
	if !s.Status().HasPending {
		t.Fatalf("expected a pending frame cached")
	}
	if got := c.Snapshot().FramesSkippedSync; got != 2 {
		t.Fatalf("expected 2 frames_skipped_sync, got %d", got)
	}
}

func TestOnTaskCompleteDoesNotDrainPending(t *testing.T) {
	reg := &fakeRegistry{}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 0, metrics.NewCounters(), nil)

	s.OnFrame(mkFrame(1))
	first := disp.snapshot()[0]
	s.OnFrame(mkFrame(2)) // cached as pending while busy

	s.OnTaskComplete(first)
	if s.Status().InFlight {
		t.Fatalf("expected in_flight false after OnTaskComplete")
	}
	if !s.Status().HasPending {
		t.Fatalf("OnTaskComplete must not drain pending")
	}

	// The next arriving frame picks up the cached pending frame as the
	// working frame (freshest-frame-wins via the swap, not a drain).
	s.OnFrame(mkFrame(3))
	tasks := disp.snapshot()
	if len(tasks) != 2 {
		t.Fatalf("expected a second task dispatched, got %d", len(tasks))
	}
	if tasks[1].Frame.Sequence != 2 {
		t.Fatalf("expected second task to use the previously pending frame (seq 2), got seq %d", tasks[1].Frame.Sequence)
	}
}

func TestUserQuestionPreemptsBusyPrefersPending(t *testing.T) {
	reg := &fakeRegistry{acquireOK: true, acquireText: "where is the car?", acquireID: "q-task-1"}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 0, metrics.NewCounters(), nil)

	s.OnFrame(mkFrame(100)) // routine task on F100, in_flight=true
	s.OnFrame(mkFrame(104)) // cached into pending while busy

	reg.mu.Lock()
	reg.available = true
	reg.mu.Unlock()

	s.OnFrame(mkFrame(105)) // question admission

	tasks := disp.snapshot()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 dispatched tasks, got %d", len(tasks))
	}
	uq := tasks[1]
	if uq.Kind != TaskUserQuestion {
		t.Fatalf("expected second task to be a user-question task")
	}
	if uq.Frame.Sequence != 104 {
		t.Fatalf("expected user-question task to prefer the cached pending frame (104), got %d", uq.Frame.Sequence)
	}
	if uq.UserQuestion == nil || *uq.UserQuestion != "where is the car?" {
		t.Fatalf("expected question text attached to task")
	}
	if !s.Status().InFlight {
		t.Fatalf("expected in_flight true after launching the user-question task")
	}
}

func TestUserQuestionWithNoPendingUsesIncoming(t *testing.T) {
	reg := &fakeRegistry{available: true, acquireOK: true, acquireText: "q", acquireID: "t1"}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 0, metrics.NewCounters(), nil)

	s.OnFrame(mkFrame(42))

	tasks := disp.snapshot()
	if len(tasks) != 1 || tasks[0].Frame.Sequence != 42 {
		t.Fatalf("expected the user-question task to use the incoming frame directly, got %+v", tasks)
	}
}

func TestAcquireRaceFallsThroughToRoutine(t *testing.T) {
	reg := &fakeRegistry{available: true, acquireOK: false}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 0, metrics.NewCounters(), nil)

	s.OnFrame(mkFrame(7))

	tasks := disp.snapshot()
	if len(tasks) != 1 || tasks[0].Kind != TaskRoutine {
		t.Fatalf("expected a routine task when Acquire loses the race, got %+v", tasks)
	}
}

func TestAsyncModePoolIsBoundedAndDropsWhenSaturated(t *testing.T) {
	reg := &fakeRegistry{}
	disp := &fakeDispatcher{}
	c := metrics.NewCounters()
	s := New(reg, disp, 2, c, nil)
	s.SetMode(ModeAsync)

	for i := uint64(0); i < 5; i++ {
		s.OnFrame(mkFrame(i))
	}

	tasks := disp.snapshot()
	if len(tasks) != 2 {
		t.Fatalf("expected pool capacity (2) tasks dispatched, got %d", len(tasks))
	}
	if got := c.Snapshot().FramesSkippedSync; got != 3 {
		t.Fatalf("expected 3 frames dropped by the saturated pool, got %d", got)
	}

	for _, tk := range tasks {
		s.OnTaskComplete(tk)
	}
	if got := s.Status().AsyncInFlight; got != 0 {
		t.Fatalf("expected async pool drained after completions, got %d in flight", got)
	}
}

func TestModeSwitchSyncToAsyncFlushesPending(t *testing.T) {
	reg := &fakeRegistry{}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 3, metrics.NewCounters(), nil)

	s.OnFrame(mkFrame(1)) // in_flight
	s.OnFrame(mkFrame(2)) // cached as pending

	s.SetMode(ModeAsync)

	tasks := disp.snapshot()
	if len(tasks) != 2 {
		t.Fatalf("expected the pending frame flushed as a second task on mode switch, got %d", len(tasks))
	}
	if s.Status().HasPending {
		t.Fatalf("expected pending slot cleared after flush to async")
	}
}

func TestModeSwitchAsyncToSyncWaitsForOutstanding(t *testing.T) {
	reg := &fakeRegistry{}
	disp := &fakeDispatcher{}
	s := New(reg, disp, 2, metrics.NewCounters(), nil)
	s.SetMode(ModeAsync)

	s.OnFrame(mkFrame(1))
	task := disp.snapshot()[0]

	done := make(chan struct{})
	go func() {
		s.SetMode(ModeSync)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("SetMode(ModeSync) must wait for outstanding async tasks")
	case <-time.After(20 * time.Millisecond):
	}

	s.OnTaskComplete(task)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SetMode(ModeSync) did not return after outstanding tasks completed")
	}
	if s.Status().Mode != ModeSync {
		t.Fatalf("expected mode sync after switch completed")
	}
}
