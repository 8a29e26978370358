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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeRestarter struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newFakeRestarter() *fakeRestarter {
	return &fakeRestarter{ch: make(chan string, 16)}
}

func (f *fakeRestarter) Restart(_ context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	f.ch <- name
	return nil
}

func (f *fakeRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWatcher(t *testing.T, r Restarter) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{
		Restarter:     r,
		DebounceDelay: 50 * time.Millisecond,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewWatcher_RequiresRestarter(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{}); err == nil {
		t.Fatal("expected error without restarter")
	}
}

func TestWatcher_WatchAndUnwatch(t *testing.T) {
	file := filepath.Join(t.TempDir(), "server.py")
	writeFile(t, file, "# v1")

	w := newTestWatcher(t, newFakeRestarter())

	if err := w.Watch("", []string{file}); err == nil {
		t.Error("expected error for empty server name")
	}
	if err := w.Watch("dev", nil); err == nil {
		t.Error("expected error for empty path list")
	}
	if err := w.Watch("dev", []string{file}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	w.mu.Lock()
	paths := w.paths["dev"]
	w.mu.Unlock()
	if len(paths) != 1 || paths[0] != file {
		t.Errorf("expected [%s], got %v", file, paths)
	}

	if err := w.Unwatch("dev"); err != nil {
		t.Fatalf("Unwatch failed: %v", err)
	}
	w.mu.Lock()
	_, ok := w.paths["dev"]
	w.mu.Unlock()
	if ok {
		t.Error("server still watched after Unwatch")
	}
	if err := w.Unwatch("dev"); err != nil {
		t.Errorf("second Unwatch: %v", err)
	}
}

func TestWatcher_DebouncedRestart(t *testing.T) {
	file := filepath.Join(t.TempDir(), "server.py")
	writeFile(t, file, "# v1")

	r := newFakeRestarter()
	w := newTestWatcher(t, r)
	if err := w.Watch("dev", []string{file}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		writeFile(t, file, "# edit")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case name := <-r.ch:
		if name != "dev" {
			t.Errorf("restarted %q, want dev", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no restart after file change")
	}

	time.Sleep(150 * time.Millisecond)
	if n := r.count(); n != 1 {
		t.Errorf("expected 1 debounced restart, got %d", n)
	}
}

func TestWatcher_WatchSpecs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tool.js")
	writeFile(t, file, "//")

	w := newTestWatcher(t, newFakeRestarter())
	err := w.WatchSpecs([]ServerSpec{
		{Name: "plain", Command: "x"},
		{Name: "dev", Command: "node", Watch: []string{file}},
	})
	if err != nil {
		t.Fatalf("WatchSpecs failed: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths["plain"]; ok {
		t.Error("spec without watch paths should not be watched")
	}
	if _, ok := w.paths["dev"]; !ok {
		t.Error("dev not watched")
	}
}

func TestWatcher_CloseDropsPending(t *testing.T) {
	file := filepath.Join(t.TempDir(), "server.py")
	writeFile(t, file, "# v1")

	r := newFakeRestarter()
	w, err := NewWatcher(WatcherConfig{
		Restarter:     r,
		DebounceDelay: 500 * time.Millisecond,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Watch("dev", []string{file}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	writeFile(t, file, "# edit")
	time.Sleep(50 * time.Millisecond)

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if n := r.count(); n != 0 {
		t.Errorf("expected no restart after Close, got %d", n)
	}
}
