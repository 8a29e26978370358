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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/shared"
)

func writeConfig(t *testing.T, doc, secrets string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpagent.config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if secrets != "" {
		if err := os.WriteFile(filepath.Join(dir, "mcpagent.secrets.yaml"), []byte(secrets), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "mcpagent", SilenceUsage: true, SilenceErrors: true}
	shared.RegisterFlags(root)
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestShowCommand_MasksSecrets(t *testing.T) {
	writeConfig(t, `
mcp:
  servers:
    remote:
      transport: websocket
      url: wss://tools.example.com/ws
`, `
openai:
  api_key: sk-live-1234567890
mcp:
  servers:
    remote:
      headers:
        Authorization: Bearer very-secret
`)

	out, err := run(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if strings.Contains(out, "very-secret") || strings.Contains(out, "sk-live") {
		t.Fatalf("secrets leaked:\n%s", out)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	servers := doc["mcp"].(map[string]any)["servers"].(map[string]any)
	remote := servers["remote"].(map[string]any)
	if remote["url"] != "wss://tools.example.com/ws" {
		t.Errorf("expected url to be kept, got %v", remote["url"])
	}
	if _, ok := remote["headers"].(map[string]any)["Authorization"]; !ok {
		t.Error("expected the merged header key to be present")
	}
}

func TestShowCommand_YAML(t *testing.T) {
	path := writeConfig(t, "execution_engine: inline\n", "")

	out, err := run(t, "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("expected the path in output:\n%s", out)
	}
	if !strings.Contains(out, "execution_engine: inline") {
		t.Errorf("expected YAML output:\n%s", out)
	}
}

func TestPathCommand(t *testing.T) {
	path := writeConfig(t, "{}\n", "")

	out, err := run(t, "config", "path")
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != path {
		t.Errorf("unexpected output %q", out)
	}
	if filepath.Base(lines[1]) != "mcpagent.secrets.yaml" {
		t.Errorf("unexpected secrets path %q", lines[1])
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		strict    bool
		wantValid bool
		wantWarn  bool
	}{
		{
			name:      "valid",
			doc:       "mcp:\n  servers:\n    fs:\n      command: mcp-fs\n",
			wantValid: true,
		},
		{
			name:      "unknown key",
			doc:       "mcp:\n  servers:\n    fs:\n      comand: mcp-fs\n",
			wantValid: false,
		},
		{
			name:      "missing url",
			doc:       "mcp:\n  servers:\n    remote:\n      transport: sse\n",
			wantValid: false,
		},
		{
			name:      "no servers warns",
			doc:       "{}\n",
			wantValid: true,
			wantWarn:  true,
		},
		{
			name:      "strict turns warnings into errors",
			doc:       "{}\n",
			strict:    true,
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.doc, "")
			args := []string{"config", "validate", "--json"}
			if tt.strict {
				args = append(args, "--strict")
			}
			out, err := run(t, args...)

			var result ValidationResult
			if jerr := json.Unmarshal([]byte(out), &result); jerr != nil {
				t.Fatalf("invalid JSON: %v\n%s", jerr, out)
			}
			if result.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v (errors: %v)", result.Valid, tt.wantValid, result.Errors)
			}
			if (err == nil) != tt.wantValid {
				t.Errorf("command error = %v, want valid=%v", err, tt.wantValid)
			}
			if !tt.wantValid && shared.ExitCodeFor(err) != shared.ExitInvalidConfig {
				t.Errorf("exit code = %d, want %d", shared.ExitCodeFor(err), shared.ExitInvalidConfig)
			}
			if got := len(result.Warnings) > 0; got != tt.wantWarn {
				t.Errorf("warnings = %v, want some=%v", result.Warnings, tt.wantWarn)
			}
		})
	}
}
