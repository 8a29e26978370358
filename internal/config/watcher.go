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

package config

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

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path and SecretsPath are the files to reload. Path is required.
	Path        string
	SecretsPath string

	// OnChange receives each successfully reloaded document. Required.
	OnChange func(*Settings)

	// OnError receives load failures; the previous settings stay in force.
	OnError func(error)

	// Logger. Default: slog.Default()
	Logger *slog.Logger

	// DebounceDelay coalesces editor save bursts. Default: 200ms
	DebounceDelay time.Duration
}

// Watcher reloads settings when their files change.
type Watcher struct {
	cfg    WatcherConfig
	fs     *fsnotify.Watcher
	logger *slog.Logger
	files  map[string]bool

	mu    sync.Mutex
	timer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching. Directories are watched rather than files so
// that editors replacing a file by rename are still seen.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("OnChange is required")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	files := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range []string{cfg.Path, cfg.SecretsPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:    cfg,
		fs:     fsw,
		logger: agentlog.WithComponent(logger, "config"),
		files:  files,
		ctx:    ctx,
		cancel: cancel,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !w.files[abs] {
				continue
			}
			w.schedule()
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

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.DebounceDelay, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	cfg, err := Load(w.cfg.Path, w.cfg.SecretsPath)
	if err != nil {
		w.logger.Warn("settings reload failed", "path", w.cfg.Path, "error", err)
		if w.cfg.OnError != nil {
			w.cfg.OnError(err)
		}
		return
	}
	w.logger.Info("settings reloaded", "path", w.cfg.Path, "servers", len(cfg.MCP.Servers))
	w.cfg.OnChange(cfg)
}

// Close stops watching and drops a pending reload.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.fs.Close()
}
