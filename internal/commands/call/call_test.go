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

package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/tombee/mcpagent/internal/commands/shared"
	mcptest "github.com/tombee/mcpagent/internal/mcp/testing"
)

const testConfig = `
logger:
  transports: [none]
mcp:
  servers:
    fs:
      command: fake-fs
    fetch:
      command: fake-fetch
`

// setupServers writes a config naming fs and fetch and routes their
// sessions to the given scripted servers.
func setupServers(t *testing.T, servers ...*mcptest.Server) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpagent.config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	shared.SetConfigPathForTest(path)
	shared.SetTransportFactoryForTest(mcptest.NewFleet(servers...).Factory)
	t.Cleanup(func() {
		shared.SetConfigPathForTest("")
		shared.SetTransportFactoryForTest(nil)
	})
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "mcpagent", SilenceUsage: true, SilenceErrors: true}
	shared.RegisterFlags(root)
	root.AddCommand(cmd)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCallCommand_Text(t *testing.T) {
	fs := mcptest.NewServer("fs").Tool("read_file", func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("read " + args["path"].(string)), nil
	})
	setupServers(t, fs, mcptest.NewServer("fetch"))

	out, err := execute(t, NewCommand(), "call", "fs", "read_file", "--arg", "path=/etc/hosts")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if strings.TrimSpace(out) != "read /etc/hosts" {
		t.Errorf("unexpected output %q", out)
	}
	if !fs.LastConn().Closed() {
		t.Error("expected the session to be shut down when the command exits")
	}
}

func TestCallCommand_JSON(t *testing.T) {
	setupServers(t, mcptest.NewServer("fs").Tool("echo", mcptest.Echo()), mcptest.NewServer("fetch"))

	out, err := execute(t, NewCommand(), "call", "fs", "echo", "--args", `{"text":"hi"}`, "--json")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	var resp CallResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if !resp.Success || resp.Command != "call" {
		t.Errorf("unexpected envelope %+v", resp.JSONResponse)
	}
	if resp.Result.Server != "fs" || resp.Result.Operation != "echo" {
		t.Errorf("unexpected result %+v", resp.Result)
	}
	if len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != "hi" {
		t.Errorf("unexpected content %+v", resp.Result.Content)
	}
}

func TestCallCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		servers  []*mcptest.Server
		args     []string
		wantCode int
	}{
		{
			name: "tool error result",
			servers: []*mcptest.Server{
				mcptest.NewServer("fs").Tool("read_file", func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
					return mcp.NewToolResultError("no such file"), nil
				}),
				mcptest.NewServer("fetch"),
			},
			args:     []string{"call", "fs", "read_file"},
			wantCode: shared.ExitToolError,
		},
		{
			name:     "unknown server",
			servers:  []*mcptest.Server{mcptest.NewServer("fs"), mcptest.NewServer("fetch")},
			args:     []string{"call", "nope", "read_file"},
			wantCode: shared.ExitInvalidConfig,
		},
		{
			name: "server fails to start",
			servers: []*mcptest.Server{
				mcptest.NewServer("fs"),
				mcptest.NewServer("fetch").FailOpen(errors.New("exec: fake-fetch: not found")),
			},
			args:     []string{"call", "fetch", "fetch", "--arg", "url=https://example.com"},
			wantCode: shared.ExitServerUnavailable,
		},
		{
			name:     "malformed argument",
			servers:  []*mcptest.Server{mcptest.NewServer("fs"), mcptest.NewServer("fetch")},
			args:     []string{"call", "fs", "read_file", "--arg", "path"},
			wantCode: shared.ExitExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupServers(t, tt.servers...)
			_, err := execute(t, NewCommand(), tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := shared.ExitCodeFor(err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (%v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestBuildArguments(t *testing.T) {
	file := filepath.Join(t.TempDir(), "args.json")
	if err := os.WriteFile(file, []byte(`{"path": "/from/file", "depth": 1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		pairs   []string
		json    string
		file    string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "empty",
			want: map[string]any{},
		},
		{
			name:  "typed pairs",
			pairs: []string{"path=/tmp", "depth=3", "recursive=true", "tags=[\"a\",\"b\"]"},
			want: map[string]any{
				"path":      "/tmp",
				"depth":     float64(3),
				"recursive": true,
				"tags":      []any{"a", "b"},
			},
		},
		{
			name:  "value containing equals",
			pairs: []string{"query=a=b"},
			want:  map[string]any{"query": "a=b"},
		},
		{
			name:  "pairs override json override file",
			file:  file,
			json:  `{"path": "/from/json"}`,
			pairs: []string{"depth=2"},
			want:  map[string]any{"path": "/from/json", "depth": float64(2)},
		},
		{
			name:    "json must be an object",
			json:    `[1, 2]`,
			wantErr: true,
		},
		{
			name:    "missing file",
			file:    filepath.Join(t.TempDir(), "missing.json"),
			wantErr: true,
		},
		{
			name:    "pair without key",
			pairs:   []string{"=value"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildArguments(tt.pairs, tt.json, tt.file)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
