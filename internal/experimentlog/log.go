// Package experimentlog implements the supplemental experiment log
// feature recovered from original_source/src/monitor/vlm/async_video_processor.py's
// _save_and_sort_experiment_log: each completed inference task's
// frame-range and timing metadata is appended to an in-memory log, kept
// sorted by starting frame number for easy debugging, and periodically
// flushed to experiment_log.json. A best-effort convenience, not a
// persistence guarantee (spec.md §1's Non-goals already exclude
// persistent-storage guarantees beyond best-effort file writes).
package experimentlog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alxayo/vlm-monitor/internal/resultwriter"
)

// Entry is one completed task's record, grounded on the original's
// result_data dict (frame range, task kind, timing, success).
type Entry struct {
	TaskID        string    `json:"task_id"`
	Kind          string    `json:"kind"`
	FrameSequence uint64    `json:"frame_sequence"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	VLMSucceeded  bool      `json:"vlm_succeeded"`
	MCPInvoked    bool      `json:"mcp_invoked"`
	MCPSucceeded  bool      `json:"mcp_succeeded"`
}

// Stats mirrors the original's top-level "statistics" block.
type Stats struct {
	TotalFramesReceived     uint64    `json:"total_frames_received"`
	TotalInferencesStarted  uint64    `json:"total_inferences_started"`
	TotalInferencesComplete uint64    `json:"total_inferences_completed"`
	StartTime               time.Time `json:"start_time"`
}

// StatsProvider supplies the statistics block at flush time. *metrics.Counters
// plus a fixed start time satisfies this via a small adapter in cmd/monitor.
type StatsProvider interface {
	Stats() Stats
}

// Log accumulates Entry records under a single lock and periodically
// flushes a frame-range-sorted snapshot to disk.
type Log struct {
	mu      sync.Mutex
	entries []Entry

	dir    string
	stats  StatsProvider
	logger *slog.Logger
}

// New constructs a Log that flushes to dir/experiment_log.json. stats may
// be nil (the statistics block is then omitted from the flushed file).
func New(dir string, stats StatsProvider, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{dir: dir, stats: stats, logger: logger}
}

// Append records one completed task. Safe for concurrent use.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// sortedSnapshot returns a copy of the log's entries ordered by starting
// frame sequence, matching the original's sort key (frame range start).
func (l *Log) sortedSnapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].FrameSequence < out[j].FrameSequence })
	return out
}

type document struct {
	Statistics   *Stats  `json:"statistics,omitempty"`
	InferenceLog []Entry `json:"inference_log"`
}

// Flush writes the current sorted snapshot to experiment_log.json, atomically.
func (l *Log) Flush() {
	doc := document{InferenceLog: l.sortedSnapshot()}
	if l.stats != nil {
		s := l.stats.Stats()
		doc.Statistics = &s
	}
	if err := resultwriter.WriteJSON(l.dir, "experiment_log.json", doc); err != nil {
		l.logger.Warn("experiment log flush failed", "error", err)
		return
	}
	l.logger.Debug("experiment log flushed", "entries", len(doc.InferenceLog))
}

// RunPeriodicFlush flushes every interval until ctx is cancelled, then
// performs one final flush so the log reflects every entry appended before
// shutdown.
func (l *Log) RunPeriodicFlush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Flush()
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}
