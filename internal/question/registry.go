// Package question implements the Question Registry (C3): at most one
// active user question, preallocated on arrival to close the
// acquire-time-of-check/time-of-use race, atomically acquired and released
// by the scheduler, and auto-cleared after a configurable timeout.
package question

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
	"github.com/alxayo/vlm-monitor/internal/metrics"
)

type state int

const (
	stateAbsent state = iota
	statePreallocated
	stateAssigned
)

// Registry holds at most one QuestionRecord and mediates its lifecycle
// under a single lock, per §4.3's state machine:
//
//	absent       --set_question-->  preallocated
//	preallocated --acquire-->        assigned(task_id)
//	assigned(t)  --release(t, _)-->  absent
//	any_state    --clear-->          absent
type Registry struct {
	mu sync.Mutex

	st state

	text           string
	receivedAt     time.Time
	lastTransition time.Time
	taskID         string

	timeout  time.Duration
	logger   *slog.Logger
	counters *metrics.Counters
}

// New constructs a Registry. timeout is the auto-clear duration (default
// 300s per §4.3/§5; pass 0 to disable auto-clear, e.g. in tests). counters
// may be nil.
func New(timeout time.Duration, counters *metrics.Counters, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewCounters()
	}
	return &Registry{st: stateAbsent, timeout: timeout, logger: logger, counters: counters}
}

// SetQuestion records a new question. It is idempotent on identical
// text+receivedAt (no-op if the already-preallocated question is
// unchanged), overwrites any preallocated question with the new one, but
// refuses to overwrite a question that is already assigned to an in-flight
// task — a question in flight is uninterruptible at the registry level;
// preemption is a scheduler concern (§4.4).
func (r *Registry) SetQuestion(text string, receivedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.autoClearLocked()

	if r.st == stateAssigned {
		r.logger.Debug("question registry: refusing to overwrite assigned question", "new_text", text)
		return
	}
	if r.st == statePreallocated && r.text == text && r.receivedAt.Equal(receivedAt) {
		return
	}
	r.st = statePreallocated
	r.text = text
	r.receivedAt = receivedAt
	r.lastTransition = time.Now()
}

// HasAvailable returns true only when the state is exactly preallocated.
// This is the fix for the bug where a question in the assigned state was
// still reported as available, causing duplicate dispatch (§4.3,§9).
func (r *Registry) HasAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoClearLocked()
	return r.st == statePreallocated
}

// Acquire atomically transitions preallocated -> assigned(fresh_id) and
// returns the question text and the freshly minted task id. From any other
// state it returns ("", "", false).
func (r *Registry) Acquire() (text string, taskID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoClearLocked()
	if r.st != statePreallocated {
		return "", "", false
	}
	r.st = stateAssigned
	r.taskID = uuid.NewString()
	r.lastTransition = time.Now()
	return r.text, r.taskID, true
}

// Release transitions assigned(taskID) -> absent, regardless of success;
// the question is dropped either way (§4.3). It is a no-op unless the
// current state is assigned(taskID) exactly — a mismatched task id is
// logged and ignored rather than treated as an error, per §7's "internal
// invariant violation: log, no-op" policy.
func (r *Registry) Release(taskID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st != stateAssigned || r.taskID != taskID {
		err := monitorerrors.NewInvariantError("question.Release",
			nil)
		r.logger.Warn("question registry: release with mismatched or absent task id",
			"error", err, "given_task_id", taskID, "current_task_id", r.taskID, "success", success)
		return
	}
	r.st = stateAbsent
	r.text = ""
	r.taskID = ""
	r.lastTransition = time.Now()
}

// Clear unconditionally transitions to absent from any state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st = stateAbsent
	r.text = ""
	r.taskID = ""
	r.lastTransition = time.Now()
}

// autoClearLocked must be called with mu held. A question that has spent
// longer than r.timeout in preallocated or assigned state is dropped
// silently (no result is produced for it).
func (r *Registry) autoClearLocked() {
	if r.timeout <= 0 || r.st == stateAbsent {
		return
	}
	if time.Since(r.receivedAt) > r.timeout {
		r.logger.Info("question registry: auto-clearing stale question", "text", r.text, "state", r.st)
		r.st = stateAbsent
		r.text = ""
		r.taskID = ""
		r.lastTransition = time.Now()
		r.counters.IncQuestionsAutoCleared()
	}
}
