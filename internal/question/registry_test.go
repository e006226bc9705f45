package question

import (
	"sync"
	"testing"
	"time"
)

func TestLifecycleHappyPath(t *testing.T) {
	r := New(0, nil, nil)
	if r.HasAvailable() {
		t.Fatalf("expected no question available initially")
	}

	r.SetQuestion("where is the car?", time.Now())
	if !r.HasAvailable() {
		t.Fatalf("expected question available after SetQuestion")
	}

	text, taskID, ok := r.Acquire()
	if !ok || text != "where is the car?" || taskID == "" {
		t.Fatalf("Acquire failed: text=%q taskID=%q ok=%v", text, taskID, ok)
	}
	if r.HasAvailable() {
		t.Fatalf("HasAvailable must be false once acquired (registry monotonicity)")
	}

	r.Release(taskID, true)
	if r.HasAvailable() {
		t.Fatalf("expected absent after release")
	}
}

func TestAcquireFromNonPreallocatedReturnsFalse(t *testing.T) {
	r := New(0, nil, nil)
	if _, _, ok := r.Acquire(); ok {
		t.Fatalf("expected Acquire to fail from absent state")
	}
}

func TestSetQuestionRefusesToOverwriteAssigned(t *testing.T) {
	r := New(0, nil, nil)
	r.SetQuestion("first", time.Now())
	_, taskID, ok := r.Acquire()
	if !ok {
		t.Fatalf("Acquire failed")
	}

	r.SetQuestion("second", time.Now())
	if r.HasAvailable() {
		t.Fatalf("assigned question must not become available again just because SetQuestion was called")
	}

	r.Release(taskID, true)
	// Now that it's absent, a later SetQuestion must take effect.
	r.SetQuestion("third", time.Now())
	if !r.HasAvailable() {
		t.Fatalf("expected question available after release then SetQuestion")
	}
}

func TestReleaseWithMismatchedTaskIDIsNoOp(t *testing.T) {
	r := New(0, nil, nil)
	r.SetQuestion("q", time.Now())
	_, taskID, _ := r.Acquire()

	r.Release("not-the-real-id", true)
	if !(r.st == stateAssigned && r.taskID == taskID) {
		t.Fatalf("expected registry to remain assigned to the original task id after mismatched release")
	}

	r.Release(taskID, true)
	if r.st != stateAbsent {
		t.Fatalf("expected absent after correct release")
	}
}

func TestReleaseDropsQuestionRegardlessOfSuccess(t *testing.T) {
	r := New(0, nil, nil)
	r.SetQuestion("q", time.Now())
	_, taskID, _ := r.Acquire()
	r.Release(taskID, false)
	if r.st != stateAbsent {
		t.Fatalf("expected absent even when release success=false")
	}
}

func TestAutoClearTimeout(t *testing.T) {
	r := New(10*time.Millisecond, nil, nil)
	r.SetQuestion("stale", time.Now())
	time.Sleep(20 * time.Millisecond)
	if r.HasAvailable() {
		t.Fatalf("expected question auto-cleared after timeout")
	}
	if _, _, ok := r.Acquire(); ok {
		t.Fatalf("expected Acquire to fail after auto-clear")
	}
}

func TestQuestionLifecycleLinearizability(t *testing.T) {
	r := New(0, nil, nil)
	r.SetQuestion("q", time.Now())

	const n = 50
	var wg sync.WaitGroup
	acquired := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, ok := r.Acquire()
			acquired[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range acquired {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one concurrent Acquire to succeed, got %d", count)
	}
}
