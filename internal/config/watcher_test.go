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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("mcp: {servers: {fs: {command: npx}}}")

	changes := make(chan *Settings, 4)
	failures := make(chan error, 4)
	w, err := NewWatcher(WatcherConfig{
		Path:          path,
		SecretsPath:   SecretsPathFor(path),
		OnChange:      func(s *Settings) { changes <- s },
		OnError:       func(err error) { failures <- err },
		DebounceDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	write("mcp: {servers: {fs: {command: npx}, fetch: {command: uvx}}}")
	select {
	case s := <-changes:
		if len(s.MCP.Servers) != 2 {
			t.Errorf("expected 2 servers, got %d", len(s.MCP.Servers))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
	}

	write("mcp: {servers: {fs: {}}}")
	select {
	case err := <-failures:
		if err == nil {
			t.Error("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invalid document not reported")
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{OnChange: func(*Settings) {}}); err == nil {
		t.Error("expected error without path")
	}
	if _, err := NewWatcher(WatcherConfig{Path: "x.yaml"}); err == nil {
		t.Error("expected error without OnChange")
	}
}
