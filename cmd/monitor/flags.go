package main

import (
	"flag"
	"fmt"
	"os"
)

// cliConfig holds flag values. Fields here either override config.Config
// sections (highest precedence, per §6.8's file->env->flag ordering) or
// supply operational wiring (endpoint URLs for services §6.8 does not
// enumerate as config sections) that cmd/monitor needs but config.Config
// deliberately does not carry.
type cliConfig struct {
	configPath string
	logLevel   string

	tcpListen string // overrides tcp.host:tcp.port when non-empty

	mcpEndpoint      string
	questionFeedBase string
	sentryBase       string

	resultsDir    string
	shutdownGrace string

	blobAccountURL      string
	blobContainer       string
	experimentLogPeriod string

	showVersion bool
}

var version = "dev"

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to JSON config file")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.tcpListen, "tcp-listen", "", "Override tcp.host:tcp.port, e.g. 0.0.0.0:9000")
	fs.StringVar(&cfg.mcpEndpoint, "mcp-endpoint", "", "MCP camera-control endpoint URL (§6.4)")
	fs.StringVar(&cfg.questionFeedBase, "question-feed", "", "Base URL of the user-question feed (§6.5)")
	fs.StringVar(&cfg.sentryBase, "sentry-base", "", "Base URL of the sentry-mode toggle (§6.6)")
	fs.StringVar(&cfg.resultsDir, "results-dir", "results", "Directory for per-frame result output (§6.7)")
	fs.StringVar(&cfg.shutdownGrace, "shutdown-grace", "10s", "Grace period to await the pipeline's return before closing the upstream connection during shutdown (in-flight inference is not awaited)")
	fs.StringVar(&cfg.blobAccountURL, "blob-account-url", "", "Azure Blob Storage account URL to mirror results to (empty disables mirroring)")
	fs.StringVar(&cfg.blobContainer, "blob-container", "", "Azure Blob Storage container name for result mirroring")
	fs.StringVar(&cfg.experimentLogPeriod, "experiment-log-interval", "30s", "Flush interval for the supplemental experiment log")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}
