package config

import (
	"log/slog"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file for edits and logs what changed, without
// auto-applying it — an operator still restarts the process to pick up a
// new configuration, but gets an immediate, precise diff in the logs
// instead of discovering a stale setting hours later. Grounded on the
// teacher's azure/hls-transcoder and azure/file-transcoder submodules,
// which watch an input directory with fsnotify to trigger work; here the
// watched event triggers a diff-and-log instead of a transcode.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	last    *Config
}

// NewWatcher opens an fsnotify watch on the file at path itself (not its
// containing directory, so a save that replaces the file by rename ends the
// watch) and loads the current config as the diff baseline.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, watcher: fw, logger: logger, last: cfg}, nil
}

// Run blocks, logging a diff summary each time path changes on disk, until
// Close is called (which closes the underlying fsnotify event channel).
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleChange() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config file changed but failed to reload", "path", w.path, "error", err)
		return
	}
	if reflect.DeepEqual(cfg, w.last) {
		return
	}
	w.logger.Info("config file changed on disk; restart to apply",
		"path", w.path,
		"vlm_endpoint_changed", cfg.VLM.Endpoint != w.last.VLM.Endpoint,
		"tcp_changed", cfg.TCP != w.last.TCP,
		"sampling_changed", cfg.Sampling != w.last.Sampling,
	)
	w.last = cfg
}

// Close stops the watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
