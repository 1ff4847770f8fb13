// File: control/watcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Configuration file watcher. Edits to the file are validated and applied
// at runtime; invalid revisions are logged and skipped.

package control

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	path    string
	apply   func(*FileConfig) error
	log     *zap.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// WatchFile starts watching path. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func WatchFile(path string, apply func(*FileConfig) error, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}
	w := &Watcher{
		path:    abs,
		apply:   apply,
		log:     log,
		watcher: fw,
		stop:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	fc, err := LoadFile(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.apply(fc); err != nil {
		w.log.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
