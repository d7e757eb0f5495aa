package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads Config from path whenever the file changes on disk and
// invokes onChange with the freshly-parsed value. Grounded on the
// fsnotify.NewWatcher / Events-channel pattern used throughout the pack
// (jinterlante1206-AleutianLocal's file watcher, kadirpekel-hector's and
// jordigilh-kubernaut's config reload), generalized here to one file
// rather than a directory tree.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	logger   *zap.SugaredLogger
	onChange func(Config)
}

// NewWatcher constructs a Watcher for path. Call Run to start watching.
func NewWatcher(path string, logger *zap.SugaredLogger, onChange func(Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Watcher{path: path, fsw: fsw, logger: logger, onChange: onChange}, nil
}

// Run watches w.path until ctx is cancelled, re-reading and re-parsing the
// file on every Write or Create event (editors commonly replace a file via
// rename+create rather than an in-place write) and calling onChange with
// the result. Parse errors are logged and skipped rather than propagated,
// so a transient bad edit never crashes the process mid-reload.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fsw.Add(w.path); err != nil {
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warnw("config: reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			w.logger.Infow("config: reloaded", "path", w.path)
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("config: watcher error", "error", err)
		}
	}
}
