// Package config implements the pipeline's single configuration object
// (§6.8), layered file -> env -> flag (highest precedence last), grounded
// on original_source/src/monitor/core/config.py's get_default_config and
// search-path precedence, and on the teacher's flags.go for CLI parsing
// style.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	monitorerrors "github.com/alxayo/vlm-monitor/internal/errors"
)

// VLM holds the vlm.* section (§6.8).
type VLM struct {
	Endpoint          string        `json:"endpoint"`
	Model             string        `json:"model"`
	Timeout           time.Duration `json:"timeout"`
	MaxConcurrent     int           `json:"max_concurrent"`
	SyncInferenceMode bool          `json:"sync_inference_mode"`
}

// TCP holds the tcp.* section.
type TCP struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Buffer int    `json:"buffer"`
}

// Sampling holds the sampling.* section.
type Sampling struct {
	TargetVideoDuration float64 `json:"target_video_duration"`
	FramesPerSecond     float64 `json:"frames_per_second"`
}

// Conversation holds the conversation.* section.
type Conversation struct {
	MaxRounds int `json:"max_rounds"`
}

// Question holds the question.* section.
type Question struct {
	Timeout      time.Duration `json:"timeout"`
	PollInterval time.Duration `json:"poll_interval"`
}

// Sentry holds the sentry.* section.
type Sentry struct {
	RefreshInterval time.Duration `json:"refresh_interval"`
}

// Config is the complete, enumerated configuration object (§6.8). No
// unrecognized sections are honored; this struct is the full contract.
type Config struct {
	VLM          VLM          `json:"vlm"`
	TCP          TCP          `json:"tcp"`
	Sampling     Sampling     `json:"sampling"`
	Conversation Conversation `json:"conversation"`
	Question     Question     `json:"question"`
	Sentry       Sentry       `json:"sentry"`
}

// Default returns the built-in defaults, renamed onto this spec's §6.8
// section names from original_source's get_default_config().
func Default() *Config {
	return &Config{
		VLM: VLM{
			Endpoint:          "http://localhost:8000/analyze",
			Model:             "qwen-vl-max-latest",
			Timeout:           30 * time.Second,
			MaxConcurrent:     3,
			SyncInferenceMode: true,
		},
		TCP: TCP{
			Host:   "0.0.0.0",
			Port:   9000,
			Buffer: 65536,
		},
		Sampling: Sampling{
			TargetVideoDuration: 3.0,
			FramesPerSecond:     5,
		},
		Conversation: Conversation{
			MaxRounds: 4,
		},
		Question: Question{
			Timeout:      300 * time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Sentry: Sentry{
			RefreshInterval: 5 * time.Second,
		},
	}
}

// Load builds a Config starting from Default(), overlaying path's JSON
// contents (if path is non-empty and the file exists) and then the process
// environment, in that order — the precedence chain continues with
// whatever the caller applies from parsed CLI flags afterward (cmd/monitor
// does this explicitly, last, per §6.8's file -> env -> flag ordering).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}
	overlayEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return monitorerrors.NewConfigError("config.read", fmt.Errorf("%s: %w", path, err))
	}
	// DisallowUnknownFields rejects any top-level (or nested) key that isn't
	// one of §6.8's enumerated sections, instead of silently ignoring it.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return monitorerrors.NewConfigError("config.parse", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

// overlayEnv applies a small, explicit set of MONITOR_* environment
// variables over cfg. Unset variables leave the existing value untouched.
func overlayEnv(cfg *Config) {
	if v := os.Getenv("MONITOR_VLM_ENDPOINT"); v != "" {
		cfg.VLM.Endpoint = v
	}
	if v := os.Getenv("MONITOR_VLM_MODEL"); v != "" {
		cfg.VLM.Model = v
	}
	if v := os.Getenv("MONITOR_VLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.VLM.Timeout = d
		}
	}
	if v := os.Getenv("MONITOR_VLM_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VLM.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MONITOR_VLM_SYNC_INFERENCE_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VLM.SyncInferenceMode = b
		}
	}
	if v := os.Getenv("MONITOR_TCP_HOST"); v != "" {
		cfg.TCP.Host = v
	}
	if v := os.Getenv("MONITOR_TCP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TCP.Port = n
		}
	}
}

// Validate enforces the invariants cmd/monitor relies on at startup,
// returning a *errors.ConfigError on failure (§4.8).
func (c *Config) Validate() error {
	if c.VLM.Endpoint == "" {
		return monitorerrors.NewConfigError("vlm.endpoint", fmt.Errorf("must not be empty"))
	}
	if c.VLM.MaxConcurrent < 1 {
		return monitorerrors.NewConfigError("vlm.max_concurrent", fmt.Errorf("must be >= 1, got %d", c.VLM.MaxConcurrent))
	}
	if c.TCP.Port < 1 || c.TCP.Port > 65535 {
		return monitorerrors.NewConfigError("tcp.port", fmt.Errorf("out of range: %d", c.TCP.Port))
	}
	if c.Sampling.FramesPerSecond <= 0 {
		return monitorerrors.NewConfigError("sampling.frames_per_second", fmt.Errorf("must be > 0, got %v", c.Sampling.FramesPerSecond))
	}
	if c.Conversation.MaxRounds < 1 {
		return monitorerrors.NewConfigError("conversation.max_rounds", fmt.Errorf("must be >= 1, got %d", c.Conversation.MaxRounds))
	}
	return nil
}
