// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
)

// Watcher watches the workflows directory for file changes and triggers a
// debounced full reload. Multiple changes within the debounce window
// collapse into a single reload.
type Watcher struct {
	fsWatcher     *fsnotify.Watcher
	manager       *Manager
	logger        *slog.Logger
	debounceDelay time.Duration

	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchConfig configures a Watcher.
type WatchConfig struct {
	Manager       *Manager
	Logger        *slog.Logger
	DebounceDelay time.Duration
}

// NewWatcher starts watching manager's workflows directory.
func NewWatcher(cfg WatchConfig) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, gatewayerrors.Wrap(err, "creating workflows directory watcher")
	}
	if err := fsWatcher.Add(cfg.Manager.dir); err != nil {
		_ = fsWatcher.Close()
		return nil, gatewayerrors.Wrapf(err, "watching workflows directory %s", cfg.Manager.dir)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce == 0 {
		debounce = 300 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:     fsWatcher,
		manager:       cfg.Manager,
		logger:        logger,
		debounceDelay: debounce,
		ctx:           ctx,
		cancel:        cancel,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.scheduleReload(event.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("workflows directory watcher error", "error", err)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) scheduleReload(changedPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, func() {
		w.logger.Info("workflows directory changed, reloading", "path", changedPath)
		if err := w.manager.ReloadAll(); err != nil {
			w.logger.Error("failed to reload workflows directory", "error", err)
		}
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.fsWatcher.Close()
}
