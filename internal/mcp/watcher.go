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

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	agentlog "github.com/tombee/mcpagent/internal/log"
)

// DefaultDebounceDelay coalesces bursts of writes into one restart.
const DefaultDebounceDelay = 200 * time.Millisecond

// Restarter restarts the session for a server. Registry implements it.
type Restarter interface {
	Restart(ctx context.Context, name string) error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Restarter receives debounced restarts. Required.
	Restarter Restarter

	// Events receives a restarting event per change. Optional.
	Events *EventEmitter

	// Logger for watcher diagnostics. Default: slog.Default()
	Logger *slog.Logger

	// DebounceDelay. Default: DefaultDebounceDelay
	DebounceDelay time.Duration

	// RestartTimeout bounds each restart. Default: 30s
	RestartTimeout time.Duration
}

// Watcher restarts server sessions when files listed in a spec's Watch
// paths change. It is meant for developing local stdio servers.
type Watcher struct {
	fs        *fsnotify.Watcher
	restarter Restarter
	events    *EventEmitter
	logger    *slog.Logger
	debounce  time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	paths   map[string][]string // server -> absolute paths
	pending map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts an fsnotify watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Restarter == nil {
		return nil, fmt.Errorf("restarter is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce <= 0 {
		debounce = DefaultDebounceDelay
	}
	timeout := cfg.RestartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fs:        fsw,
		restarter: cfg.Restarter,
		events:    cfg.Events,
		logger:    agentlog.WithComponent(logger, "watcher"),
		debounce:  debounce,
		timeout:   timeout,
		paths:     make(map[string][]string),
		pending:   make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// WatchSpecs watches every spec that lists Watch paths.
func (w *Watcher) WatchSpecs(specs []ServerSpec) error {
	for _, spec := range specs {
		if len(spec.Watch) == 0 {
			continue
		}
		if err := w.Watch(spec.Name, spec.Watch); err != nil {
			return err
		}
	}
	return nil
}

// Watch replaces the watched paths for server.
func (w *Watcher) Watch(server string, paths []string) error {
	if server == "" {
		return fmt.Errorf("server name is required")
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		abs = append(abs, a)
	}

	if err := w.Unwatch(server); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range abs {
		if err := w.fs.Add(a); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", a, err)
		}
		w.logger.Debug("watching path", agentlog.ServerKey, server, "path", a)
	}
	w.paths[server] = abs
	return nil
}

// Unwatch stops watching server's paths and drops any pending restart.
func (w *Watcher) Unwatch(server string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, ok := w.paths[server]
	if !ok {
		return nil
	}
	delete(w.paths, server)

	for _, p := range paths {
		if !w.watchedLocked(p) {
			_ = w.fs.Remove(p)
		}
	}
	if t, ok := w.pending[server]; ok {
		t.Stop()
		delete(w.pending, server)
	}
	return nil
}

// watchedLocked reports whether any server still watches path.
func (w *Watcher) watchedLocked(path string) bool {
	for _, paths := range w.paths {
		for _, p := range paths {
			if p == path {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.changed(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) changed(name string) {
	path, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for server, paths := range w.paths {
		for _, p := range paths {
			// A watched directory reports events for its entries.
			if p == path || p == filepath.Dir(path) {
				w.logger.Info("server source changed", agentlog.ServerKey, server, "file", path)
				w.scheduleLocked(server)
				break
			}
		}
	}
}

func (w *Watcher) scheduleLocked(server string) {
	if t, ok := w.pending[server]; ok {
		t.Stop()
	}
	w.pending[server] = time.AfterFunc(w.debounce, func() {
		w.restart(server)
	})
}

func (w *Watcher) restart(server string) {
	w.mu.Lock()
	delete(w.pending, server)
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	w.events.EmitRestarting(server, "source changed")
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	if err := w.restarter.Restart(ctx, server); err != nil {
		w.logger.Error("restart after file change failed", agentlog.ServerKey, server, "error", err)
	}
}

// Close stops the watcher and drops pending restarts.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fs.Close()
}
