// Package coordinator implements the VLM/MCP Coordinator (C6): for each
// inference task it launches up to three sibling operations in parallel,
// lets each persist its own result the moment it finishes, and only
// releases the question / reports task completion once every sibling has
// terminated. Grounded on the teacher's relay.DestinationManager.RelayMessage,
// which fans out to destinations with a WaitGroup and waits for all of them
// before returning, to preserve ordering.
package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/alxayo/vlm-monitor/internal/conversation"
	"github.com/alxayo/vlm-monitor/internal/experimentlog"
	"github.com/alxayo/vlm-monitor/internal/mcpclient"
	"github.com/alxayo/vlm-monitor/internal/metrics"
	"github.com/alxayo/vlm-monitor/internal/resultwriter"
	"github.com/alxayo/vlm-monitor/internal/scheduler"
	"github.com/alxayo/vlm-monitor/internal/vlmclient"
)

// QuestionReleaser is the slice of the Question Registry (C3) the
// coordinator depends on. *question.Registry satisfies this directly.
type QuestionReleaser interface {
	Release(taskID string, success bool)
}

// TaskCompleter is the slice of the Inference Scheduler (C4) the
// coordinator depends on. *scheduler.Scheduler satisfies this directly.
type TaskCompleter interface {
	OnTaskComplete(task *scheduler.InferenceTask)
}

// SentrySource reports the current (cached) sentry-mode toggle. *sentry.Poller
// satisfies this directly.
type SentrySource interface {
	Enabled() bool
}

// Option configures optional Coordinator behavior not every caller needs,
// keeping New's required-argument list stable for callers that don't.
type Option func(*Coordinator)

// WithBlobMirror additionally uploads every committed result file to Azure
// Blob Storage via mirror (see resultwriter.BlobMirror). Omit for local-only
// persistence.
func WithBlobMirror(mirror *resultwriter.BlobMirror) Option {
	return func(c *Coordinator) { c.mirror = mirror }
}

// WithExperimentLog records each completed task's frame-range and timing
// metadata to log (see package experimentlog). Omit to skip the
// supplemental experiment log entirely.
func WithExperimentLog(log *experimentlog.Log) Option {
	return func(c *Coordinator) { c.experimentLog = log }
}

// Prompts holds the prompt templates §4.6 refers to.
type Prompts struct {
	RoutineSystem      string
	RoutinePrompt      string
	UserQuestionSystem string
	UserQuestionPrompt string // formatted with the verbatim question text appended
}

// Coordinator dispatches InferenceTasks to the VLM and (conditionally) MCP
// endpoints.
type Coordinator struct {
	vlm    *vlmclient.Client
	mcp    *mcpclient.Client
	sentry SentrySource

	registry  QuestionReleaser
	scheduler TaskCompleter
	tail      *conversation.Tail

	prompts    Prompts
	resultsDir string
	callCtx    func() (context.Context, context.CancelFunc)

	mirror        *resultwriter.BlobMirror
	experimentLog *experimentlog.Log

	counters *metrics.Counters
	logger   *slog.Logger
}

// New constructs a Coordinator. callTimeout bounds each sibling HTTP call;
// pass 0 to rely solely on the clients' own configured timeouts. opts
// configures optional behavior (blob mirroring, experiment logging).
func New(vlm *vlmclient.Client, mcp *mcpclient.Client, sentrySrc SentrySource, registry QuestionReleaser, sched TaskCompleter, tail *conversation.Tail, prompts Prompts, resultsDir string, callTimeout time.Duration, counters *metrics.Counters, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewCounters()
	}
	callCtx := func() (context.Context, context.CancelFunc) {
		if callTimeout <= 0 {
			return context.WithCancel(context.Background())
		}
		return context.WithTimeout(context.Background(), callTimeout)
	}
	c := &Coordinator{
		vlm:        vlm,
		mcp:        mcp,
		sentry:     sentrySrc,
		registry:   registry,
		scheduler:  sched,
		tail:       tail,
		prompts:    prompts,
		resultsDir: resultsDir,
		callCtx:    callCtx,
		counters:   counters,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func kindDir(kind scheduler.TaskKind) string {
	if kind == scheduler.TaskUserQuestion {
		return "user_question"
	}
	return "routine"
}

// Dispatch implements scheduler.Dispatcher. It returns immediately; the
// task's siblings run on their own goroutines, joined internally.
func (c *Coordinator) Dispatch(task *scheduler.InferenceTask) {
	go c.run(task)
}

func (c *Coordinator) run(task *scheduler.InferenceTask) {
	dir := resultwriter.FrameDetailsDir(c.resultsDir, kindDir(task.Kind), task.Frame.Sequence)
	imagePath := filepath.Join(dir, "frame.jpg")

	if len(task.Frame.Encoded) > 0 {
		if err := resultwriter.WriteJPEGMirrored(context.Background(), dir, "frame.jpg", task.Frame.Encoded, c.mirror); err != nil {
			c.logger.Warn("failed to persist frame image", "error", err, "sequence", task.Frame.Sequence)
		}
	}
	if err := resultwriter.WriteJSONMirrored(context.Background(), dir, "image_details.json", map[string]any{
		"sequence":  task.Frame.Sequence,
		"wall_time": task.Frame.WallTime,
		"width":     task.Frame.Width,
		"height":    task.Frame.Height,
		"kind":      kindDir(task.Kind),
	}, c.mirror); err != nil {
		c.logger.Warn("failed to persist image details", "error", err, "sequence", task.Frame.Sequence)
	}

	var wg sync.WaitGroup
	var mcpResult *mcpclient.ControlResult
	var mcpErr error
	var vlmOK bool

	wg.Add(1)
	go func() {
		defer wg.Done()
		vlmOK = c.runVLMSibling(task, dir)
	}()

	launchMCP := task.Kind == scheduler.TaskRoutine && c.sentry != nil && c.sentry.Enabled()
	if launchMCP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mcpResult, mcpErr = c.runMCPSibling(dir, imagePath)
		}()
	}

	wg.Wait()

	// Ordering is essential here: release the question and report task
	// completion only after every sibling has terminated, so a subsequent
	// frame cannot acquire a new question while a still-running sibling
	// belongs to this one.
	if task.Kind == scheduler.TaskUserQuestion && task.QuestionTaskID != nil {
		c.registry.Release(*task.QuestionTaskID, vlmOK)
	}

	if launchMCP && mcpErr == nil && mcpResult != nil {
		c.tail.AppendAssistant(fmt.Sprintf("observed frame %d", task.Frame.Sequence))
		c.tail.AppendUser(fmt.Sprintf("camera control: %s (%s)", mcpResult.ToolName, mcpResult.Reason))
	}

	if c.experimentLog != nil {
		c.experimentLog.Append(experimentlog.Entry{
			TaskID:        task.ID,
			Kind:          kindDir(task.Kind),
			FrameSequence: task.Frame.Sequence,
			StartedAt:     task.StartedAt,
			CompletedAt:   time.Now(),
			VLMSucceeded:  vlmOK,
			MCPInvoked:    launchMCP,
			MCPSucceeded:  launchMCP && mcpErr == nil,
		})
	}

	c.scheduler.OnTaskComplete(task)
}

// runVLMSibling reports whether the VLM call succeeded and its result was
// persisted, so the caller can relay that outcome to the question registry
// (for user-question tasks) and the experiment log.
func (c *Coordinator) runVLMSibling(task *scheduler.InferenceTask, dir string) bool {
	req := vlmclient.Request{
		ImageBase64:      base64.StdEncoding.EncodeToString(task.Frame.Encoded),
		ConversationTail: toVLMMessages(c.tail),
	}
	fileName := "inference_result.json"
	if task.Kind == scheduler.TaskUserQuestion && task.UserQuestion != nil {
		req.System = c.prompts.UserQuestionSystem
		req.Prompt = fmt.Sprintf("%s\n\nuser question: %s", c.prompts.UserQuestionPrompt, *task.UserQuestion)
		fileName = "user_question.json"
	} else {
		req.System = c.prompts.RoutineSystem
		req.Prompt = c.prompts.RoutinePrompt
	}

	ctx, cancel := c.callCtx()
	defer cancel()

	res, err := c.vlm.Analyze(ctx, req)
	if err != nil {
		c.logger.Warn("vlm analysis failed", "error", err, "sequence", task.Frame.Sequence, "task_id", task.ID)
		return false
	}
	if err := resultwriter.WriteJSONMirrored(ctx, dir, fileName, res, c.mirror); err != nil {
		c.logger.Warn("failed to persist vlm result", "error", err, "sequence", task.Frame.Sequence)
		return false
	}
	return true
}

func (c *Coordinator) runMCPSibling(dir string, imagePath string) (*mcpclient.ControlResult, error) {
	ctx, cancel := c.callCtx()
	defer cancel()

	res, err := c.mcp.Control(ctx, imagePath)
	if err != nil {
		c.logger.Warn("mcp control failed", "error", err, "image_path", imagePath)
		return nil, err
	}
	if err := resultwriter.WriteJSONMirrored(ctx, dir, "mcp_result.json", res, c.mirror); err != nil {
		c.logger.Warn("failed to persist mcp result", "error", err)
	}
	return res, nil
}

func toVLMMessages(tail *conversation.Tail) []vlmclient.Message {
	if tail == nil {
		return nil
	}
	entries := tail.Snapshot()
	out := make([]vlmclient.Message, 0, len(entries))
	for _, e := range entries {
		role := "assistant"
		if e.Role == conversation.User {
			role = "user"
		}
		out = append(out, vlmclient.Message{Role: role, Text: e.Text})
	}
	return out
}
