package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alxayo/vlm-monitor/internal/config"
	"github.com/alxayo/vlm-monitor/internal/experimentlog"
	"github.com/alxayo/vlm-monitor/internal/logger"
	"github.com/alxayo/vlm-monitor/internal/metrics"
	"github.com/alxayo/vlm-monitor/internal/pipeline"
	"github.com/alxayo/vlm-monitor/internal/resultwriter"
	"github.com/alxayo/vlm-monitor/internal/tcpsource"
)

// originalFPS is the upstream camera frame rate assumed by the inference
// sampling rule (§4.2's K = original_fps / target_fps). It is not part of
// config.Config's enumerated sections (§6.8 keeps that contract closed), so
// it lives here as a fixed operational constant, matching the original
// source's own hard-coded camera assumption rather than a configurable
// section nothing else in §6.8 anticipates.
const originalFPS = 25.0

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	monitorCfg, err := config.Load(cfg.configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.tcpListen != "" {
		host, portStr, splitErr := net.SplitHostPort(cfg.tcpListen)
		if splitErr != nil {
			log.Error("invalid -tcp-listen value", "value", cfg.tcpListen, "error", splitErr)
			os.Exit(2)
		}
		port, portErr := strconv.Atoi(portStr)
		if portErr != nil {
			log.Error("invalid -tcp-listen port", "value", cfg.tcpListen, "error", portErr)
			os.Exit(2)
		}
		monitorCfg.TCP.Host = host
		monitorCfg.TCP.Port = port
	}
	if err := monitorCfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownGrace, err := time.ParseDuration(cfg.shutdownGrace)
	if err != nil {
		log.Error("invalid -shutdown-grace value", "value", cfg.shutdownGrace, "error", err)
		os.Exit(2)
	}
	experimentLogInterval, err := time.ParseDuration(cfg.experimentLogPeriod)
	if err != nil {
		log.Error("invalid -experiment-log-interval value", "value", cfg.experimentLogPeriod, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", monitorCfg.TCP.Host, monitorCfg.TCP.Port)
	dialer := tcpsource.NewDialer(addr, log)
	conn, err := dialer.Dial(ctx)
	if err != nil {
		log.Error("failed to connect to upstream video source", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	reader := tcpsource.NewReader(conn)

	var watcher *config.Watcher
	if cfg.configPath != "" {
		watcher, err = config.NewWatcher(cfg.configPath, log)
		if err != nil {
			log.Warn("failed to start config file watcher", "path", cfg.configPath, "error", err)
		} else {
			defer watcher.Close()
			go watcher.Run()
		}
	}

	var mirror *resultwriter.BlobMirror
	if cfg.blobAccountURL != "" && cfg.blobContainer != "" {
		mirror, err = resultwriter.NewBlobMirror(cfg.blobAccountURL, cfg.blobContainer, cfg.resultsDir, log)
		if err != nil {
			log.Error("failed to initialize blob mirror", "error", err)
			os.Exit(1)
		}
	}

	counters := metrics.NewCounters()
	startTime := time.Now()

	var expLog *experimentlog.Log
	if experimentLogInterval > 0 {
		expLog = experimentlog.New(cfg.resultsDir, countersStats{counters: counters, startTime: startTime}, log)
	}

	pl := pipeline.New(pipeline.Params{
		Config:                monitorCfg,
		Reader:                reader,
		StartTime:             startTime,
		MCPEndpoint:           cfg.mcpEndpoint,
		QuestionFeedBase:      cfg.questionFeedBase,
		SentryBase:            cfg.sentryBase,
		ResultsDir:            cfg.resultsDir,
		Prompts:               pipeline.DefaultPrompts(),
		CallTimeout:           monitorCfg.VLM.Timeout,
		OriginalFPS:           originalFPS,
		ExperimentLogInterval: experimentLogInterval,
		Mirror:                mirror,
		ExperimentLog:         expLog,
		Counters:              counters,
		Logger:                log,
	})

	log.Info("monitor pipeline starting",
		"tcp_addr", addr,
		"vlm_endpoint", monitorCfg.VLM.Endpoint,
		"sync_inference_mode", monitorCfg.VLM.SyncInferenceMode,
		"version", version,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- pl.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			log.Error("pipeline exited with error", "error", err)
			os.Exit(1)
		}
		log.Info("pipeline exited cleanly")
	case <-ctx.Done():
		log.Info("shutdown signal received, awaiting pipeline stop", "grace", shutdownGrace)
		select {
		case <-runErr:
			log.Info("pipeline stopped cleanly within grace period")
		case <-time.After(shutdownGrace):
			// conn.Close unblocks the decoder's blocking ReadFrame call,
			// which does not itself observe ctx (the upstream io.Reader
			// contract has no cancellation hook); closing the connection is
			// the only way to force it to return before process exit.
			log.Warn("shutdown grace period elapsed, closing upstream connection")
			conn.Close()
			<-runErr
		}
		if expLog != nil {
			expLog.Flush()
		}
	}
}

// countersStats adapts metrics.Counters to experimentlog.StatsProvider.
type countersStats struct {
	counters  *metrics.Counters
	startTime time.Time
}

func (c countersStats) Stats() experimentlog.Stats {
	snap := c.counters.Snapshot()
	return experimentlog.Stats{
		TotalFramesReceived:     snap.FramesDecoded,
		TotalInferencesStarted:  snap.InferenceTasksStarted,
		TotalInferencesComplete: snap.InferenceTasksCompleted,
		StartTime:               c.startTime,
	}
}
