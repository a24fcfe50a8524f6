package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads configFile on every write and hands the new *Config
// to onReload; the service uses it to swap the rule compiler's
// min-confidence and duplicate-similarity thresholds without a
// restart. A config file that fails to parse or validate is logged and the
// previous, still-valid Config stays in effect.
type Watcher struct {
	configFile string
	onReload   func(*Config)
	log        *logrus.Logger
	watcher    *fsnotify.Watcher
}

// NewWatcher builds a Watcher for configFile. onReload is called with
// every successfully reloaded Config; it must not block.
func NewWatcher(configFile string, log *logrus.Logger, onReload func(*Config)) (*Watcher, error) {
	if log == nil {
		log = logrus.New()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config file watcher: %w", err)
	}
	// fsnotify watches a directory's entries, not a bare path, so
	// editors that replace the file (write-then-rename) still fire.
	if err := fw.Add(filepath.Dir(configFile)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	return &Watcher{
		configFile: configFile,
		onReload:   onReload,
		log:        log,
		watcher:    fw,
	}, nil
}

// Run blocks, reloading configFile on every relevant fsnotify event
// until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	absConfig, err := filepath.Abs(w.configFile)
	if err != nil {
		absConfig = w.configFile
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil {
				eventPath = event.Name
			}
			if eventPath != absConfig {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.configFile)
			if err != nil {
				w.log.WithError(err).WithField("config_file", w.configFile).
					Warn("config reload failed, keeping previous configuration")
				continue
			}
			w.log.WithField("config_file", w.configFile).Info("configuration reloaded")
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config file watcher error")
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
