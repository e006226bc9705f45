// Package pipeline groups the constructed component instances that make up
// one running monitor pipeline. It replaces the original source's
// process-wide global state object (a single module-level instance
// aggregating the TCP client, distributor, and counters) with an explicit
// value created once at startup and threaded through anything that needs
// more than one component (§9's PipelineContext redesign note).
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alxayo/vlm-monitor/internal/config"
	"github.com/alxayo/vlm-monitor/internal/conversation"
	"github.com/alxayo/vlm-monitor/internal/coordinator"
	"github.com/alxayo/vlm-monitor/internal/decoder"
	"github.com/alxayo/vlm-monitor/internal/distributor"
	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
	"github.com/alxayo/vlm-monitor/internal/experimentlog"
	"github.com/alxayo/vlm-monitor/internal/mcpclient"
	"github.com/alxayo/vlm-monitor/internal/metrics"
	"github.com/alxayo/vlm-monitor/internal/qmonitor"
	"github.com/alxayo/vlm-monitor/internal/question"
	"github.com/alxayo/vlm-monitor/internal/questionfeed"
	"github.com/alxayo/vlm-monitor/internal/resultwriter"
	"github.com/alxayo/vlm-monitor/internal/scheduler"
	"github.com/alxayo/vlm-monitor/internal/sentry"
	"github.com/alxayo/vlm-monitor/internal/tcpsource"
	"github.com/alxayo/vlm-monitor/internal/vlmclient"
)

// DefaultPrompts mirrors the original source's vlm_client.py default
// system/user prompt pair (DashScopeVLMClient.__init__'s default_prompt
// fallback), translated to this module's two-purpose (routine vs.
// user-question) prompt pair.
func DefaultPrompts() coordinator.Prompts {
	return coordinator.Prompts{
		RoutineSystem:      "You are a helpful assistant that analyzes video frames and returns structured JSON responses.",
		RoutinePrompt:      "Analyze this frame and describe anything notable.",
		UserQuestionSystem: "You are a helpful assistant that analyzes video frames and returns structured JSON responses.",
		UserQuestionPrompt: "Analyze this frame and answer the user's question.",
	}
}

// Params configures the construction of one Context. Config, Reader and
// ResultsDir are required; the HTTP endpoint fields may be empty only if
// the caller does not intend to exercise that collaborator (a zero-value
// vlmclient.Client/mcpclient.Client still constructs, it simply errors on
// every call, matching §6's "core never hard-codes a transport" stance).
type Params struct {
	Config    *config.Config
	Reader    *tcpsource.Reader
	StartTime time.Time

	MCPEndpoint      string
	QuestionFeedBase string
	SentryBase       string

	ResultsDir            string
	Prompts               coordinator.Prompts
	CallTimeout           time.Duration
	OriginalFPS           float64
	ExperimentLogInterval time.Duration

	Mirror        *resultwriter.BlobMirror
	ExperimentLog *experimentlog.Log

	Counters *metrics.Counters
	Logger   *slog.Logger
}

// Context holds every long-lived component of one pipeline instance.
type Context struct {
	Config   *config.Config
	Logger   *slog.Logger
	Counters *metrics.Counters

	Registry     *question.Registry
	Distributor  *distributor.Distributor
	Scheduler    *scheduler.Scheduler
	QMonitor     *qmonitor.Monitor
	Sentry       *sentry.Poller
	Conversation *conversation.Tail

	Decoder       *decoder.Decoder
	Coordinator   *coordinator.Coordinator
	QuestionFeed  *questionfeed.Poller
	ExperimentLog *experimentlog.Log

	experimentLogInterval time.Duration
}

// dispatcherSlot breaks the construction cycle between the Inference
// Scheduler (C4, which needs a Dispatcher at construction time) and the
// Coordinator (C6, which needs the Scheduler as its TaskCompleter at
// construction time): both Scheduler and Monitor are handed a slot whose
// target is filled in once the Coordinator exists, rather than exposing a
// mutable "set dispatcher later" method on either component itself.
type dispatcherSlot struct {
	target scheduler.Dispatcher
}

func (d *dispatcherSlot) Dispatch(task *scheduler.InferenceTask) { d.target.Dispatch(task) }

// New wires one complete pipeline instance per SPEC_FULL.md §4.13: the
// Question Registry and Conversation Log are built first (they have no
// dependencies), then the Scheduler (dispatching through a dispatcherSlot
// standing in for the not-yet-built Coordinator), then the Coordinator
// itself; the slot is resolved, the Monitor is built on the same slot, and
// finally the Distributor/Decoder pair is assembled on top.
func New(p Params) *Context {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counters := p.Counters
	if counters == nil {
		counters = metrics.NewCounters()
	}

	registry := question.New(p.Config.Question.Timeout, counters, logger)
	tail := conversation.New(p.Config.Conversation.MaxRounds)

	slot := &dispatcherSlot{}

	sched := scheduler.New(registry, slot, scheduler.DefaultAsyncPoolSize, counters, logger)
	if !p.Config.VLM.SyncInferenceMode {
		sched.SetMode(scheduler.ModeAsync)
	}

	sentryPoller := sentry.New(p.SentryBase, p.Config.Sentry.RefreshInterval, p.Config.VLM.Timeout, logger)

	vlm := vlmclient.New(p.Config.VLM.Endpoint, p.Config.VLM.Timeout)
	mcp := mcpclient.New(p.MCPEndpoint, p.Config.VLM.Timeout)

	var opts []coordinator.Option
	if p.Mirror != nil {
		opts = append(opts, coordinator.WithBlobMirror(p.Mirror))
	}
	if p.ExperimentLog != nil {
		opts = append(opts, coordinator.WithExperimentLog(p.ExperimentLog))
	}

	coord := coordinator.New(vlm, mcp, sentryPoller, registry, sched, tail, p.Prompts, p.ResultsDir, p.CallTimeout, counters, logger, opts...)
	slot.target = coord

	qmon := qmonitor.New(registry, sched, slot, p.Config.Question.PollInterval, counters, logger)

	dist := distributor.New(samplingConfig(p.Config.Sampling, p.OriginalFPS), counters, logger)
	dist.RegisterInferenceSink(sched)

	dec := decoder.New(p.Reader, dist, counters, logger, p.StartTime)

	questionFeed := questionfeed.New(p.QuestionFeedBase, registry, p.Config.Question.PollInterval, p.Config.VLM.Timeout, logger)

	return &Context{
		Config:                p.Config,
		Logger:                logger,
		Counters:              counters,
		Registry:              registry,
		Distributor:           dist,
		Scheduler:             sched,
		QMonitor:              qmon,
		Sentry:                sentryPoller,
		Conversation:          tail,
		Decoder:               dec,
		Coordinator:           coord,
		QuestionFeed:          questionFeed,
		ExperimentLog:         p.ExperimentLog,
		experimentLogInterval: p.ExperimentLogInterval,
	}
}

// samplingConfig derives distributor.SamplingConfig from config.Sampling.
// originalFPS is not part of config.Config's enumerated sections (§6.8
// keeps it closed); the caller passes it in through Params.OriginalFPS
// (cmd/monitor uses a fixed constant, not a flag).
// ImageMode is the spec's "target_fps=1, duration=1" special case (§4.2),
// derived rather than separately configured.
func samplingConfig(s config.Sampling, originalFPS float64) distributor.SamplingConfig {
	imageMode := s.TargetVideoDuration <= 1.0 && s.FramesPerSecond <= 1.0
	return distributor.SamplingConfig{
		OriginalFPS:         originalFPS,
		TargetFPS:           s.FramesPerSecond,
		ImageMode:           imageMode,
		BatchOriginalFrames: int(s.TargetVideoDuration * originalFPS),
		BatchTargetFrames:   int(s.TargetVideoDuration * s.FramesPerSecond),
	}
}

// Run starts every background loop (decoder ingestion, question monitor,
// sentry poller, question-feed poller, experiment log flusher) and blocks
// until the decoder's Run returns: on a terminal error (e.g. framing
// corruption demanding a connection reset), or on ctx cancellation once the
// decoder next checks ctx between frames (a read blocked on the upstream
// reader does not observe ctx). The other loops are not waited for. Each loop's
// ShutdownError on ctx cancellation is treated as a clean stop, not a
// failure, per §7's Shutdown row.
func (c *Context) Run(ctx context.Context) error {
	runLoop := func(name string, run func(context.Context) error) {
		if err := run(ctx); err != nil && !monitorerrors.IsShutdown(err) {
			c.Logger.Warn("pipeline loop exited with error", "loop", name, "error", err)
		}
	}

	go runLoop("qmonitor", c.QMonitor.Run)
	go runLoop("sentry", c.Sentry.Run)
	go runLoop("questionfeed", c.QuestionFeed.Run)
	if c.ExperimentLog != nil {
		go c.ExperimentLog.RunPeriodicFlush(ctx, c.experimentLogInterval)
	}

	decErr := c.Decoder.Run(ctx)
	if monitorerrors.IsShutdown(decErr) {
		return nil
	}
	return decErr
}
